// Package notify delivers schedule failure alerts.
//
// Two channels exist: Pushover (HTTPS form post through resty) and an
// MQTT alert topic. Multi fans one alert out to every configured
// channel. Delivery problems are returned to the caller, which logs
// them; an alert is never retried.
//
//	n := notify.Multi{
//	    notify.NewPushover(resolver, cfg.Notifications.Pushover),
//	    notify.NewMQTT(mqttClient),
//	}
//	err := n.Notify(ctx, "Grott Scheduler Alert", msg)
package notify
