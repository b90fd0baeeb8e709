package repositories

import (
	"log/slog"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"relay-lab/domain"
)

func openRepository(t *testing.T) *MessageRepository {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewMessageRepository(db, slog.New(slog.DiscardHandler))
}

func messagesAt(at time.Time) []domain.Message {
	content := "this message will self destruct in 5 seconds"
	return []domain.Message{
		{ID: uuid.New(), Sender: "Alice", Content: content, At: at},
		{ID: uuid.New(), Sender: "Bob", Content: content, At: at.Add(1 * time.Minute)},
		{ID: uuid.New(), Sender: "Clara", Content: content, At: at.Add(2 * time.Minute)},
	}
}

func Test_Record_Multiple_Message(t *testing.T) {
	req := require.New(t)
	repository := openRepository(t)

	// Given three messages stored out of order
	messages := messagesAt(time.Now().UTC())
	for _, i := range []int{2, 0, 1} {
		req.NoError(repository.StoreMessage(messages[i]))
	}

	// When fetching more than what is stored
	fetched, err := repository.Recent(10)

	// Then every message comes back, oldest first
	req.NoError(err)
	req.Equal(messages, fetched)
}

func Test_Record_Multiple_Message_And_Limit(t *testing.T) {
	req := require.New(t)
	repository := openRepository(t)

	messages := messagesAt(time.Now().UTC())
	for _, m := range messages {
		req.NoError(repository.StoreMessage(m))
	}

	// When only the last two are requested
	fetched, err := repository.Recent(2)

	// Then the newest two come back in chronological order
	req.NoError(err)
	req.Equal(messages[1:], fetched)
}

func Test_Recent_Without_Limit(t *testing.T) {
	req := require.New(t)
	repository := openRepository(t)
	req.NoError(repository.StoreMessage(messagesAt(time.Now().UTC())[0]))

	fetched, err := repository.Recent(0)

	req.NoError(err)
	req.Empty(fetched)
}

func Test_Recent_Empty_Store(t *testing.T) {
	req := require.New(t)
	repository := openRepository(t)

	fetched, err := repository.Recent(5)

	req.NoError(err)
	req.Empty(fetched)
}

func Test_Message_Record_Keeps_Unicode(t *testing.T) {
	req := require.New(t)
	message := domain.Message{
		ID:      uuid.New(),
		Sender:  "Zoé",
		Content: "un été : très chaud 🌞",
		At:      time.Unix(0, 1_700_000_000_123_456_789).UTC(),
	}

	decoded, err := unmarshalMessage(marshalMessage(message))

	req.NoError(err)
	req.Equal(message, decoded)
}

func Test_Message_Record_Truncated(t *testing.T) {
	req := require.New(t)
	encoded := marshalMessage(*domain.NewMessage("Alice", "hi"))

	_, err := unmarshalMessage(encoded[:len(encoded)-3])

	req.Error(err)
}
