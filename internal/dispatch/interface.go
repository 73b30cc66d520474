package dispatch

import (
	"context"

	"github.com/mattjoyce/commandxml/internal/channel"
	"github.com/mattjoyce/commandxml/internal/journal"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/mattjoyce/commandxml/internal/dispatch ChannelStore,Recorder

// ChannelStore loads and persists the channel document.
type ChannelStore interface {
	Load() (*channel.Document, error)
	Save(doc *channel.Document) error
}

// Recorder persists run outcomes.
type Recorder interface {
	Record(ctx context.Context, run journal.Run) (string, error)
}
