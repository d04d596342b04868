package index

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/cognicore/dossier/pkg/dossier/internalerr"
)

// DefaultLimit is the default number of documents retrieved per entity.
// Small and biased toward precision: each retrieved document costs an
// expensive downstream enrichment call.
const DefaultLimit = 3

// Mention associates a stored document path with an entity's mention count.
type Mention struct {
	DocID string // stored path, possibly with a legacy prefix
	Count int
}

// DocumentReference is a mention resolved to an on-disk document.
type DocumentReference struct {
	DocID    string
	Path     string // resolved, validated path
	Mentions int
}

// MentionStore is the queryable mapping from entity identifier to
// (document path, mention count) pairs.
type MentionStore interface {
	Mentions(ctx context.Context, entityID string) ([]Mention, error)
	EntitiesAbove(ctx context.Context, minCount int) ([]string, error)
	Close() error
}

// Index ranks an entity's source documents by mention count and resolves
// their stored paths against the current on-disk layout.
type Index struct {
	Store    MentionStore
	Resolver *Resolver
	Log      *log.Logger
}

// Rank returns up to limit document references for the entity, ordered by
// descending mention count with ties broken by document identifier so the
// output is deterministic across runs. A limit <= 0 selects DefaultLimit.
//
// An entity with zero indexed mentions yields internalerr.ErrNotFound. A
// document whose path fails to resolve is excluded and the omission logged;
// if every document fails to resolve the entity yields
// internalerr.ErrUnresolved, never a quietly empty result.
func (ix *Index) Rank(ctx context.Context, entityID string, limit int) ([]DocumentReference, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	mentions, err := ix.Store.Mentions(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("index: mentions for %q: %w", entityID, err)
	}
	if len(mentions) == 0 {
		return nil, fmt.Errorf("index: entity %q has no documents: %w", entityID, internalerr.ErrNotFound)
	}

	sort.Slice(mentions, func(i, j int) bool {
		if mentions[i].Count != mentions[j].Count {
			return mentions[i].Count > mentions[j].Count
		}
		return mentions[i].DocID < mentions[j].DocID
	})

	refs := make([]DocumentReference, 0, limit)
	for _, m := range mentions {
		if len(refs) == limit {
			break
		}
		path, err := ix.Resolver.Resolve(m.DocID)
		if err != nil {
			if ix.Log != nil {
				ix.Log.Printf("index: entity %s: omitting %s: %v", entityID, m.DocID, err)
			}
			continue
		}
		refs = append(refs, DocumentReference{DocID: m.DocID, Path: path, Mentions: m.Count})
	}

	if len(refs) == 0 {
		return nil, fmt.Errorf("index: entity %q: %w", entityID, internalerr.ErrUnresolved)
	}
	return refs, nil
}
