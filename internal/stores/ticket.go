package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ticketRecordVersion1 = 1
	maxWatchRetries      = 4
)

var (
	ErrTicketNotFound = errors.New("mfa ticket not found")
	ErrTicketExpired  = errors.New("mfa ticket expired")
	ErrTicketExceeded = errors.New("mfa ticket attempts exceeded")
	ErrTicketBackend  = errors.New("mfa ticket backend unavailable")
)

// Ticket is the server-side half of a pending second-factor ticket.
type Ticket struct {
	PrincipalID string
	Role        string
	ExpiresAt   int64
	Attempts    uint16
}

// TicketStore keeps pending-MFA ticket state in Redis. A record exists from
// ticket issue until the first successful confirmation, expiry or attempt
// exhaustion.
type TicketStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewTicketStore(redisClient redis.UniversalClient, prefix string) *TicketStore {
	if prefix == "" {
		prefix = "cmt"
	}
	return &TicketStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *TicketStore) key(ticketID string) string {
	return s.prefix + ":" + ticketID
}

func (s *TicketStore) Save(ctx context.Context, ticketID string, record *Ticket, ttl time.Duration) error {
	encoded, err := encodeTicket(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(ticketID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrTicketBackend, err)
	}
	return nil
}

func (s *TicketStore) Get(ctx context.Context, ticketID string) (*Ticket, error) {
	data, err := s.redis.Get(ctx, s.key(ticketID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrTicketBackend, err)
	}

	record, err := decodeTicket(data)
	if err != nil {
		return nil, err
	}
	if time.Now().Unix() >= record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(ticketID)).Result()
		return nil, ErrTicketExpired
	}
	return record, nil
}

// Exists reports whether a live record is held for ticketID.
func (s *TicketStore) Exists(ctx context.Context, ticketID string) error {
	_, err := s.Get(ctx, ticketID)
	return err
}

// Consume deletes the ticket and reports whether this call removed it. Only
// one concurrent caller observes true.
func (s *TicketStore) Consume(ctx context.Context, ticketID string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(ticketID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTicketBackend, err)
	}
	return n > 0, nil
}

// RecordFailure increments the attempt counter. Once maxAttempts is reached
// the ticket is deleted and exceeded is true.
func (s *TicketStore) RecordFailure(ctx context.Context, ticketID string, maxAttempts int) (exceeded bool, err error) {
	key := s.key(ticketID)

	for i := 0; i < maxWatchRetries; i++ {
		exceeded = false
		err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeTicket(data)
			if err != nil {
				return err
			}
			ttl := time.Until(time.Unix(record.ExpiresAt, 0))
			if ttl <= 0 {
				if err := deleteInTx(ctx, tx, key); err != nil {
					return err
				}
				return ErrTicketExpired
			}

			record.Attempts++
			if int(record.Attempts) >= maxAttempts {
				exceeded = true
				return deleteInTx(ctx, tx, key)
			}

			updated, err := encodeTicket(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrTicketNotFound
			}
			if errors.Is(err, ErrTicketExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrTicketBackend, err)
		}
		return exceeded, nil
	}

	return false, ErrTicketNotFound
}

func deleteInTx(ctx context.Context, tx *redis.Tx, key string) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

func encodeTicket(record *Ticket) ([]byte, error) {
	if len(record.PrincipalID) > 65535 || len(record.Role) > 255 {
		return nil, errors.New("mfa ticket field length exceeded")
	}

	var buf bytes.Buffer
	buf.WriteByte(ticketRecordVersion1)
	_ = binary.Write(&buf, binary.BigEndian, record.Attempts)
	_ = binary.Write(&buf, binary.BigEndian, record.ExpiresAt)
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(record.PrincipalID)))
	buf.WriteString(record.PrincipalID)
	buf.WriteByte(byte(len(record.Role)))
	buf.WriteString(record.Role)

	return buf.Bytes(), nil
}

func decodeTicket(data []byte) (*Ticket, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != ticketRecordVersion1 {
		return nil, errors.New("invalid mfa ticket version")
	}

	record := &Ticket{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var idLen uint16
	if err := binary.Read(reader, binary.BigEndian, &idLen); err != nil {
		return nil, err
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(reader, id); err != nil {
		return nil, err
	}
	record.PrincipalID = string(id)

	roleLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	role := make([]byte, roleLen)
	if _, err := io.ReadFull(reader, role); err != nil {
		return nil, err
	}
	record.Role = string(role)

	return record, nil
}
