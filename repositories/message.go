package repositories

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"relay-lab/domain"
)

const messagePrefix = "msg:"

// Field numbers of the stored message record.
const (
	fieldID      protowire.Number = 1
	fieldSender  protowire.Number = 2
	fieldContent protowire.Number = 3
	fieldAt      protowire.Number = 4
)

// MessageRepository keeps broadcast history in BadgerDB.
type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) *MessageRepository {
	return &MessageRepository{db: db, log: log}
}

// StoreMessage persists a message in BadgerDB.
// The key is formatted as "msg:{timestamp_padded}:{uuid}" to:
//  1. Ensure chronological sorting using 19-digit zero padding (lexicographical order).
//  2. Prevent data loss by using UUID as a collision disconnector if two messages
//     arrive at the same nanosecond.
func (m *MessageRepository) StoreMessage(message domain.Message) error {
	key := fmt.Sprintf("%s%019d:%s", messagePrefix, message.At.UnixNano(), message.ID)
	value := marshalMessage(message)
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

// Recent returns at most limit messages, oldest first.
// Keys are walked backwards from the newest one so only the tail is read.
func (m *MessageRepository) Recent(limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	var messages []domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(messagePrefix)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Let's go to the newest position msg:9999999999999999999 and walk back
		for it.Seek(append(prefix, []byte("9999999999999999999")...)); it.ValidForPrefix(prefix); it.Next() {
			if len(messages) == limit {
				m.log.Debug(fmt.Sprintf("Maximum of %d message reached", limit))
				break
			}
			err := it.Item().Value(func(value []byte) error {
				message, err := unmarshalMessage(value)
				if err != nil {
					return err
				}
				messages = append(messages, message)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Reverse(messages)
	return messages, nil
}

func marshalMessage(message domain.Message) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendString(b, message.ID.String())
	b = protowire.AppendTag(b, fieldSender, protowire.BytesType)
	b = protowire.AppendString(b, message.Sender)
	b = protowire.AppendTag(b, fieldContent, protowire.BytesType)
	b = protowire.AppendString(b, message.Content)
	b = protowire.AppendTag(b, fieldAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(message.At.UnixNano()))
	return b
}

func unmarshalMessage(b []byte) (domain.Message, error) {
	var message domain.Message
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return domain.Message{}, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return domain.Message{}, protowire.ParseError(n)
			}
			message.At = time.Unix(0, int64(v)).UTC()
			b = b[n:]
		case typ == protowire.BytesType && num <= fieldContent:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return domain.Message{}, protowire.ParseError(n)
			}
			switch num {
			case fieldID:
				id, err := uuid.Parse(v)
				if err != nil {
					return domain.Message{}, err
				}
				message.ID = id
			case fieldSender:
				message.Sender = v
			case fieldContent:
				message.Content = v
			}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return domain.Message{}, protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return message, nil
}
