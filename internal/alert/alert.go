package alert

import (
	"github.com/containrrr/shoutrrr"

	"github.com/tansu-cloud/gateway/internal/logger"
)

// Alerter fans operator alerts out to configured shoutrrr service URLs
// (discord, slack, smtp, ...). With no URLs configured it only logs.
type Alerter struct {
	urls []string
}

func New(urls []string) *Alerter {
	return &Alerter{urls: urls}
}

// Send delivers one alert to every configured service. Delivery failures are
// logged and never propagate: alerting must not affect the data plane.
func (a *Alerter) Send(title, message string) {
	entry := logger.WithComponent("alert").WithField("title", title)
	entry.Warn(message)

	for _, serviceURL := range a.urls {
		if err := shoutrrr.Send(serviceURL, title+": "+message); err != nil {
			entry.WithError(err).Warn("alert delivery failed")
		}
	}
}
