// Package influxdb records OBS input levels as time series.
//
// It wraps the official influxdb-client-go v2 library. Every observed input
// state (from enumerations, successful mutations and OBS events) becomes one
// point in the input_state measurement, tagged by input name and kind.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteInputState(influxdb.InputState{InputName: "Mic1", VolumeDb: &db})
//
// # Thread Safety
//
// All methods are safe for concurrent use. Writes are batched according to
// batch_size and flush_interval and never block the caller; asynchronous
// write errors are delivered to the SetOnError callback.
package influxdb
