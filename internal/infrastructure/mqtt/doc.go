// Package mqtt provides MQTT connectivity for the scheduler.
//
// The broker is an optional side channel. The scheduler publishes:
//
//	grottsched/system/status        retained online/offline (Last Will on crash)
//	grottsched/alert                failure notifications
//	grottsched/execution/{id}       one event per execution log entry
//
// and listens on grottsched/command/execute/{id} for "run now" requests.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.Execution(42), event)
package mqtt
