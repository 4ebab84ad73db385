package triage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/triage/connectivity"
)

// ServiceName is the connectivity service the engine registers under.
const ServiceName = "triage"

// Request is the wire form of an action request.
type Request struct {
	Action Action `json:"action"`
}

// Handle is a connectivity.Handler: it decodes a Request, dispatches it
// and encodes the Envelope. Malformed requests are answered with an
// error envelope, not a transport error.
func (e *Engine) Handle(ctx context.Context, payload []byte) ([]byte, error) {
	var req Request
	var env Envelope
	if err := json.Unmarshal(payload, &req); err != nil {
		env = Envelope{Error: fmt.Sprintf("invalid request: %v", err)}
	} else {
		env = e.Dispatch(ctx, req.Action)
	}
	out, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("triage: encode envelope: %w", err)
	}
	return out, nil
}

// Install registers the engine on r. It is a connectivity.Installer, so
// a caller wrapping its calls in connectivity.WithReinstall gets the
// engine re-registered once when it has gone missing.
func (e *Engine) Install(r *connectivity.Router) error {
	r.RegisterLocal(ServiceName, e.Handle)
	return nil
}
