package slack

import "github.com/Strob0t/GroundControl/internal/port/notifier"

func init() {
	notifier.Register(providerName, func(webhookURL string) notifier.Notifier {
		return NewNotifier(webhookURL)
	})
}
