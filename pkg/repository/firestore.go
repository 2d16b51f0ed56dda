package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/rulesmith/pkg/model"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const firestoreCollection = "slots"

// Firestore keeps the snapshot in document slots/<slot>
type Firestore struct {
	client *firestore.Client
	slot   string
}

var _ Slot = (*Firestore)(nil)

type slotDocument struct {
	Entries   []model.PersistedEntry `firestore:"entries"`
	UpdatedAt time.Time              `firestore:"updatedAt"`
}

// NewFirestore connects to the database. An empty databaseID uses the
// default database.
func NewFirestore(ctx context.Context, projectID, databaseID, slot string, opts ...option.ClientOption) (*Firestore, error) {
	var client *firestore.Client
	var err error
	if databaseID == "" || databaseID == firestore.DefaultDatabaseID {
		client, err = firestore.NewClient(ctx, projectID, opts...)
	} else {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, databaseID, opts...)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID),
			goerr.V("database", databaseID))
	}
	return &Firestore{client: client, slot: slot}, nil
}

func (x *Firestore) doc() *firestore.DocumentRef {
	return x.client.Collection(firestoreCollection).Doc(x.slot)
}

func (x *Firestore) Load(ctx context.Context) ([]model.PersistedEntry, error) {
	snap, err := x.doc().Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to get slot document", goerr.V("slot", x.slot))
	}

	var doc slotDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(ErrCorruptedSlot, "failed to decode slot document",
			goerr.V("slot", x.slot),
			goerr.V("error", err.Error()))
	}
	return doc.Entries, nil
}

func (x *Firestore) Save(ctx context.Context, entries []model.PersistedEntry) error {
	if entries == nil {
		entries = []model.PersistedEntry{}
	}
	doc := slotDocument{Entries: entries, UpdatedAt: time.Now().UTC()}
	if _, err := x.doc().Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to set slot document", goerr.V("slot", x.slot))
	}
	return nil
}

func (x *Firestore) Close() error {
	return x.client.Close()
}
