package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

const TableMessages = "messages"

// Event is one change notification. Insert events carry only the id; the
// receiver is expected to re-fetch the full row.
type Event struct {
	Op     Op              `json:"op"`
	Table  string          `json:"table"`
	ID     string          `json:"id"`
	Record json.RawMessage `json:"record,omitempty"`
	At     time.Time       `json:"at"`
}

func Insert(table, id string) Event {
	return Event{Op: OpInsert, Table: table, ID: id, At: time.Now().UTC()}
}

func Update(table, id string, record any) (Event, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return Event{}, fmt.Errorf("encode record: %w", err)
	}
	return Event{Op: OpUpdate, Table: table, ID: id, Record: raw, At: time.Now().UTC()}, nil
}

func Delete(table, id string) Event {
	return Event{Op: OpDelete, Table: table, ID: id, At: time.Now().UTC()}
}

func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	switch ev.Op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return Event{}, fmt.Errorf("decode event: unknown op %q", ev.Op)
	}
	if ev.ID == "" {
		return Event{}, fmt.Errorf("decode event: missing id")
	}
	return ev, nil
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscriber delivers events in the order the broker hands them over. The
// returned channel is closed when ctx ends or the subscription breaks.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
}

type Broker interface {
	Publisher
	Subscriber
	Close() error
}
