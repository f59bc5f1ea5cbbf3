// Package influxdb writes reporter readings to an InfluxDB v2 bucket.
//
// It wraps the official influxdb-client-go v2 library. Every point carries
// either a float "value" field or a string "text" field depending on
// whether the payload parses as a number, so measurements and states such
// as ON or CLOSED share one measurement.
//
// # Usage
//
//	w, err := influxdb.Open(ctx, conn.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer w.Close()
//
//	w.OnError(func(err error) { log.Warn("influx write failed", "error", err) })
//	w.Record(influxdb.Point{Tags: map[string]string{"destination": "boiler/temp"}, Value: "21.5"})
//
// Batch failures are asynchronous and only reach OnError.
package influxdb
