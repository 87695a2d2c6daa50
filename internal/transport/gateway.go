package transport

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rndmzd/laser-turret/internal/arbiter"
	"github.com/rndmzd/laser-turret/internal/tracking"
	"github.com/rndmzd/laser-turret/internal/turreterr"
)

// wireCommand is the JSON envelope for one operator command, mirroring
// the Command tagged variants in arbiter.Command.
type wireCommand struct {
	Type string `json:"type"`

	Axis      string `json:"axis,omitempty"`
	Steps     int    `json:"steps,omitempty"`
	Direction int    `json:"direction,omitempty"`

	XSteps int `json:"x_steps,omitempty"`
	YSteps int `json:"y_steps,omitempty"`

	X      int `json:"x,omitempty"`
	Y      int `json:"y,omitempty"`
	FrameW int `json:"frame_w,omitempty"`
	FrameH int `json:"frame_h,omitempty"`

	Mode string `json:"mode,omitempty"`

	Armed bool `json:"armed,omitempty"`
	Pct   int  `json:"pct,omitempty"`

	DurationMs int `json:"duration_ms,omitempty"`
	Count      int `json:"count,omitempty"`
	OnMs       int `json:"on_ms,omitempty"`
	OffMs      int `json:"off_ms,omitempty"`
}

// wireResponse is the JSON Ok|Rejected(reason) pair returned for every
// command.
type wireResponse struct {
	Ok     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// Gateway decodes JSON commands and submits them to an Arbiter.
type Gateway struct {
	arb *arbiter.Arbiter
}

// NewGateway wraps arb for HTTP command submission.
func NewGateway(arb *arbiter.Arbiter) *Gateway {
	return &Gateway{arb: arb}
}

// ServeCommand decodes one JSON command from the request body, submits
// it to the arbiter, and writes back Ok|Rejected(reason).
func (g *Gateway) ServeCommand(w http.ResponseWriter, r *http.Request) {
	var wc wireCommand
	if err := json.NewDecoder(r.Body).Decode(&wc); err != nil {
		writeResponse(w, wireResponse{Ok: false, Reason: "malformed json: " + err.Error()})
		return
	}

	cmd, err := decodeCommand(wc)
	if err != nil {
		writeResponse(w, wireResponse{Ok: false, Reason: err.Error()})
		return
	}

	if err := g.arb.Submit(cmd); err != nil {
		writeResponse(w, wireResponse{Ok: false, Reason: err.Error()})
		return
	}
	writeResponse(w, wireResponse{Ok: true})
}

func writeResponse(w http.ResponseWriter, resp wireResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func decodeCommand(wc wireCommand) (arbiter.Command, error) {
	switch wc.Type {
	case "jog":
		return arbiter.Jog{Axis: wc.Axis, Steps: wc.Steps, Direction: wc.Direction}, nil
	case "move_absolute":
		return arbiter.MoveAbsolute{XSteps: wc.XSteps, YSteps: wc.YSteps}, nil
	case "center_on_pixel":
		return arbiter.CenterOnPixel{X: wc.X, Y: wc.Y, FrameW: wc.FrameW, FrameH: wc.FrameH}, nil
	case "set_mode":
		mode, err := parseMode(wc.Mode)
		if err != nil {
			return nil, err
		}
		return arbiter.SetMode{Mode: mode}, nil
	case "home":
		return arbiter.Home{}, nil
	case "set_home":
		return arbiter.SetHome{}, nil
	case "disable":
		return arbiter.Disable{}, nil
	case "enable":
		return arbiter.Enable{}, nil
	case "laser_arm":
		return arbiter.LaserArm{Armed: wc.Armed}, nil
	case "laser_set_power":
		return arbiter.LaserSetPower{Pct: wc.Pct}, nil
	case "laser_fire":
		return arbiter.LaserFire{DurationMs: wc.DurationMs}, nil
	case "laser_burst":
		return arbiter.LaserBurst{Count: wc.Count, OnMs: wc.OnMs, OffMs: wc.OffMs}, nil
	default:
		return nil, fmt.Errorf("%w: unknown command type %q", turreterr.ErrMalformed, wc.Type)
	}
}

func parseMode(s string) (tracking.Mode, error) {
	switch s {
	case "crosshair":
		return tracking.Crosshair, nil
	case "camera":
		return tracking.CameraIdle, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q", turreterr.ErrMalformed, s)
	}
}

