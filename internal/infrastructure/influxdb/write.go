package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementInputState is the measurement holding OBS input levels.
const MeasurementInputState = "input_state"

// InputState is one observation of an OBS input. Nil fields were not
// observed and are left out of the point.
type InputState struct {
	InputName string
	InputKind string
	VolumeDb  *float64
	Muted     *bool
	Timestamp time.Time
}

// WriteInputState queues a point for an input observation:
//
//	input_state,input_name=Mic1,input_kind=wasapi_input volume_db=-5,muted=0i
//
// The write is non-blocking. Observations with no fields are dropped.
func (c *Client) WriteInputState(s InputState) {
	if !c.IsConnected() {
		return
	}

	point := inputStatePoint(s)
	if point == nil {
		return
	}
	c.writeAPI.WritePoint(point)
	c.queued.Add(1)
}

func inputStatePoint(s InputState) *write.Point {
	fields := make(map[string]any, 2)
	if s.VolumeDb != nil {
		fields["volume_db"] = *s.VolumeDb
	}
	if s.Muted != nil {
		muted := 0
		if *s.Muted {
			muted = 1
		}
		fields["muted"] = muted
	}
	if len(fields) == 0 || s.InputName == "" {
		return nil
	}

	tags := map[string]string{"input_name": s.InputName}
	if s.InputKind != "" {
		tags["input_kind"] = s.InputKind
	}

	ts := s.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(MeasurementInputState, tags, fields, ts)
}
