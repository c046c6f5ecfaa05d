// Package influxdb records gateway telemetry in InfluxDB v2.
//
// Three measurements are written: access_event (one point per controller
// event), controller_health (CPU and memory samples from session
// heartbeats) and session_state (session transitions). Writes are batched
// according to influxdb.batch_size and influxdb.flush_interval; async write
// failures are reported through SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	client.WriteControllerHealth("front-door", 12, 41.5)
package influxdb
