// Package actionlog persists store mutations as a newline-delimited JSON
// action log and replays logged actions against an engine. The log is an
// append-only mutation journal: replaying it in order reproduces the
// mutations it records.
package actionlog

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/kittclouds/eavstore/pkg/eav"
)

// Action types understood by the processor. Create is deliberately absent:
// replay must be idempotent, and upsert subsumes create for that purpose.
const (
	ActionUpdateEnt = "update_ent"
	ActionUpsertEnt = "upsert_ent"
)

// ErrInvalidAction marks an action whose type is not replayable.
var ErrInvalidAction = errors.New("actionlog: invalid action")

// Action is one logged mutation: a type selecting the engine operation and
// the raw params payload for it. Params stays raw until replay so a writer
// never needs the engine's types.
type Action struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
}

func validTypes() map[string]bool {
	return map[string]bool{
		ActionUpdateEnt: true,
		ActionUpsertEnt: true,
	}
}

// Writer appends actions to a log stream, one JSON document per line.
type Writer struct {
	w io.Writer
}

// NewWriter wraps an append-positioned stream.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteActions validates and appends the given actions. Validation happens
// before anything is written, so a bad action never truncates the batch
// mid-stream.
func (w *Writer) WriteActions(actions ...Action) error {
	valid := validTypes()
	for _, a := range actions {
		if !valid[a.Type] {
			return fmt.Errorf("%w: unknown type %q", ErrInvalidAction, a.Type)
		}
	}
	enc := json.NewEncoder(w.w)
	for _, a := range actions {
		if err := enc.Encode(a); err != nil {
			return fmt.Errorf("write action: %w", err)
		}
	}
	return nil
}

// UpdateAction builds an update_ent action from engine params.
func UpdateAction(p eav.UpdateEntParams) (Action, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Action{}, err
	}
	return Action{Type: ActionUpdateEnt, Params: raw}, nil
}

// UpsertAction builds an upsert_ent action from engine params.
func UpsertAction(p eav.UpsertEntParams) (Action, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Action{}, err
	}
	return Action{Type: ActionUpsertEnt, Params: raw}, nil
}

// Processor replays logged actions against an engine.
type Processor struct {
	store  *eav.Store
	logger zerolog.Logger
}

// NewProcessor creates a replay processor. A nil logger disables logging.
func NewProcessor(store *eav.Store, logger *zerolog.Logger) *Processor {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Processor{store: store, logger: *logger}
}

// ProcessAction dispatches one action to the engine operation its type
// names. Unknown types fail with ErrInvalidAction.
func (p *Processor) ProcessAction(ctx context.Context, a Action) error {
	switch a.Type {
	case ActionUpdateEnt:
		var params eav.UpdateEntParams
		if err := json.Unmarshal(a.Params, &params); err != nil {
			return fmt.Errorf("%w: bad update_ent params: %v", ErrInvalidAction, err)
		}
		return p.store.UpdateEnt(ctx, params)
	case ActionUpsertEnt:
		var params eav.UpsertEntParams
		if err := json.Unmarshal(a.Params, &params); err != nil {
			return fmt.Errorf("%w: bad upsert_ent params: %v", ErrInvalidAction, err)
		}
		_, err := p.store.UpsertEnt(ctx, params)
		return err
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAction, a.Type)
	}
}

// ProcessReader replays a newline-delimited action stream in order, stopping
// at the first failure. Blank lines are skipped.
func (p *Processor) ProcessReader(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var a Action
		if err := json.Unmarshal(raw, &a); err != nil {
			return fmt.Errorf("actionlog: line %d: %w", line, err)
		}
		if err := p.ProcessAction(ctx, a); err != nil {
			return fmt.Errorf("actionlog: line %d: %w", line, err)
		}
		p.logger.Debug().Int("line", line).Str("type", a.Type).Msg("replayed action")
	}
	return sc.Err()
}

// ProcessFiles replays log files in the given order.
func (p *Processor) ProcessFiles(ctx context.Context, paths ...string) error {
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("actionlog: %w", err)
		}
		err = p.ProcessReader(ctx, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("actionlog: replay %s: %w", path, err)
		}
	}
	return nil
}
