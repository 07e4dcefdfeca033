package ingest

import (
	"context"
	"log/slog"

	"faststart/internal/logging"
	"faststart/internal/registry"
)

// Expander resolves raw paths (files or folders) into concrete file paths.
type Expander interface {
	Expand(ctx context.Context, paths []string) ([]string, error)
}

// Dispatcher starts the scan pipeline for a newly admitted entry. It must not
// block on the scan itself.
type Dispatcher interface {
	DispatchScan(entry registry.Entry)
}

// Gateway is the single entry point through which paths become entries.
type Gateway struct {
	registry   *registry.Registry
	expander   Expander
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewGateway wires a gateway. A nil expander admits raw paths unchanged and
// a nil dispatcher admits without scanning.
func NewGateway(reg *registry.Registry, expander Expander, dispatcher Dispatcher, logger *slog.Logger) *Gateway {
	return &Gateway{
		registry:   reg,
		expander:   expander,
		dispatcher: dispatcher,
		logger:     logging.NewComponentLogger(logger, "ingest"),
	}
}

// Admit expands, normalizes, and admits raw, then dispatches one scan per
// newly admitted entry. It returns the admitted entries in input order.
// Paths already tracked are ignored. Expansion failures degrade to admitting
// the raw input so the user still sees an entry per dropped path.
func (g *Gateway) Admit(ctx context.Context, raw []string) []registry.Entry {
	if len(raw) == 0 {
		return nil
	}
	paths := raw
	if g.expander != nil {
		expanded, err := g.expander.Expand(ctx, raw)
		if err != nil {
			logging.WarnWithContext(logging.WithContext(ctx, g.logger), "path expansion failed; admitting raw paths", "ingestion_degraded",
				logging.Int("paths", len(raw)),
				logging.Error(err),
				logging.Impact("folders are admitted as single entries and may fail to scan"),
				logging.Hint("check that the dropped paths exist and are readable"),
			)
		} else {
			paths = expanded
		}
	}

	candidates := make([]registry.Entry, 0, len(paths))
	for _, p := range paths {
		key := Normalize(p)
		if key == "" {
			continue
		}
		candidates = append(candidates, registry.Entry{Key: key, DisplayName: DisplayName(key)})
	}

	admitted := g.registry.Admit(candidates)
	if len(admitted) > 0 {
		g.logger.Info("admitted files",
			logging.Int("requested", len(raw)),
			logging.Int("admitted", len(admitted)),
			logging.Int("tracked", g.registry.Len()),
		)
	}
	if g.dispatcher != nil {
		for _, entry := range admitted {
			g.dispatcher.DispatchScan(entry)
		}
	}
	return admitted
}
