package services

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MegaGrindStone/chat-web-ui/internal/models"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// BoltDB implements the Store interface using a BoltDB backend for persistent storage of sessions, their
// transcripts and uploaded attachments.
type BoltDB struct {
	db *bolt.DB
}

type storedAttachment struct {
	Attachment models.Attachment
	Data       []byte
}

var (
	sessionsBucket    = []byte("sessions")
	attachmentsBucket = []byte("attachments")

	// ErrNotFound is returned when an attachment does not exist.
	ErrNotFound = errors.New("not found")
)

// NewBoltDB creates a new BoltDB instance with the specified file path. It initializes the database with required
// buckets and returns an error if the database cannot be opened or initialized. The database file is created with
// 0600 permissions if it doesn't exist.
func NewBoltDB(path string) (BoltDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return BoltDB{}, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{sessionsBucket, attachmentsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return BoltDB{}, fmt.Errorf("failed to create buckets: %w", err)
	}

	return BoltDB{db: db}, nil
}

// Close releases the database file.
func (b BoltDB) Close() error {
	return b.db.Close()
}

func messageBucketName(sessionID string) []byte {
	return []byte(fmt.Sprintf("session-%s", sessionID))
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

// AddSession stores a new session record and creates its message bucket.
func (b BoltDB) AddSession(_ context.Context, session models.Session) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(messageBucketName(session.ID)); err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		v, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}

		return tx.Bucket(sessionsBucket).Put([]byte(session.ID), v)
	})
}

// Messages retrieves all messages of the specified session in the order they were added.
func (b BoltDB) Messages(_ context.Context, sessionID string) ([]models.Message, error) {
	var messages []models.Message
	err := b.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(messageBucketName(sessionID))
		if b == nil {
			return nil
		}

		return b.ForEach(func(_, v []byte) error {
			var message models.Message
			if err := json.Unmarshal(v, &message); err != nil {
				return fmt.Errorf("failed to unmarshal message: %w", err)
			}
			messages = append(messages, message)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// AddMessage appends a message to the specified session. Keys are big-endian sequence numbers so iteration
// follows insertion order.
func (b BoltDB) AddMessage(_ context.Context, sessionID string, message models.Message) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(messageBucketName(sessionID))
		if err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("failed to get next sequence: %w", err)
		}

		v, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}

		return b.Put(itob(seq), v)
	})
}

// ClearMessages removes every message of the specified session. The session itself is kept.
func (b BoltDB) ClearMessages(_ context.Context, sessionID string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		name := messageBucketName(sessionID)
		if tx.Bucket(name) != nil {
			if err := tx.DeleteBucket(name); err != nil {
				return fmt.Errorf("failed to delete message bucket: %w", err)
			}
		}
		_, err := tx.CreateBucket(name)
		return err
	})
}

// AddAttachment stores data and returns the attachment with its newly assigned reference.
func (b BoltDB) AddAttachment(_ context.Context, attachment models.Attachment, data []byte) (models.Attachment, error) {
	attachment.Ref = uuid.New().String()

	v, err := json.Marshal(storedAttachment{
		Attachment: attachment,
		Data:       data,
	})
	if err != nil {
		return models.Attachment{}, fmt.Errorf("failed to marshal attachment: %w", err)
	}

	err = b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(attachmentsBucket).Put([]byte(attachment.Ref), v)
	})
	if err != nil {
		return models.Attachment{}, err
	}
	return attachment, nil
}

// Attachment retrieves a stored attachment and its data, or ErrNotFound.
func (b BoltDB) Attachment(_ context.Context, ref string) (models.Attachment, []byte, error) {
	var stored storedAttachment
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(attachmentsBucket).Get([]byte(ref))
		if v == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(v, &stored); err != nil {
			return fmt.Errorf("failed to unmarshal attachment: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Attachment{}, nil, err
	}
	return stored.Attachment, stored.Data, nil
}

// Resolve loads the bytes behind attachment so they can be embedded in a completion request.
func (b BoltDB) Resolve(ctx context.Context, attachment models.Attachment) ([]byte, error) {
	_, data, err := b.Attachment(ctx, attachment.Ref)
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment %s: %w", attachment.Ref, err)
	}
	return data, nil
}
