package arbiter

import "time"

// Detection is one bounding box reported by the video pipeline's
// detector backend (Haar, TFLite, remote inference — all external to
// this package).
type Detection struct {
	Kind       string
	X, Y, W, H int
	Confidence float64
}

// RecentTargetSource is the narrow polling capability a detector backend
// can expose: the latest target centroid and its timestamp. DetectorFeed
// does not use it; it receives detections through OnDetections.
type RecentTargetSource interface {
	RecentTarget() (cx, cy int, ts time.Time, ok bool)
}

// DetectorFeed adapts a stream of detection lists into TrackTarget
// commands, using only the largest bounding box per frame, and submits
// it to the arbiter's bounded channel like any other producer.
type DetectorFeed struct {
	arbiter        *Arbiter
	frameW, frameH int
}

// NewDetectorFeed builds a feed bound to arbiter for frames of the given
// dimensions.
func NewDetectorFeed(a *Arbiter, frameW, frameH int) *DetectorFeed {
	return &DetectorFeed{arbiter: a, frameW: frameW, frameH: frameH}
}

// OnDetections is the detector callback: on( list<Detection> ). It picks
// the largest box by area and submits a TrackTarget command; all other
// detections are dropped from the motion path (telemetry may still
// report them out-of-band).
func (f *DetectorFeed) OnDetections(detections []Detection) {
	if len(detections) == 0 {
		return
	}
	largest := detections[0]
	largestArea := largest.W * largest.H
	for _, d := range detections[1:] {
		if area := d.W * d.H; area > largestArea {
			largest = d
			largestArea = area
		}
	}

	cx := largest.X + largest.W/2
	cy := largest.Y + largest.H/2

	_ = f.arbiter.Submit(TrackTarget{
		CX: cx, CY: cy, FrameW: f.frameW, FrameH: f.frameH, TS: time.Now(),
	})
}
