package terraform

import (
	"context"

	"github.com/yairfalse/driftwatch/providers"
	"github.com/yairfalse/driftwatch/telemetry"
)

// Provider implements providers.DeclaredProvider over a state Source.
type Provider struct {
	source        Source
	defaultRegion string
	logger        *telemetry.Logger
}

// NewProvider returns a declared-state provider. defaultRegion is used
// for resources whose region cannot be read from their attributes.
func NewProvider(source Source, defaultRegion string) *Provider {
	return &Provider{
		source:        source,
		defaultRegion: defaultRegion,
		logger:        telemetry.NewLogger("terraform-state"),
	}
}

// FetchDeclared reads and parses the state. Every failure is a *providers.StateUnavailableError.
func (p *Provider) FetchDeclared(ctx context.Context) (providers.DeclaredState, error) {
	data, err := p.source.Read(ctx)
	if err != nil {
		return providers.DeclaredState{}, &providers.StateUnavailableError{
			Source: p.source.String(),
			Reason: "read state",
			Err:    err,
		}
	}

	st, err := ParseState(data)
	if err != nil {
		return providers.DeclaredState{}, &providers.StateUnavailableError{
			Source: p.source.String(),
			Reason: "parse state",
			Err:    err,
		}
	}

	raws := st.RawResources(p.defaultRegion)
	p.logger.WithContext(ctx).Info().
		Str("source", p.source.String()).
		Int("version", st.Version).
		Int64("serial", st.Serial).
		Int("resources", len(raws)).
		Msg("loaded terraform state")

	return providers.DeclaredState{
		Resources: raws,
		Version:   st.Version,
		Serial:    st.Serial,
		Lineage:   st.Lineage,
	}, nil
}
