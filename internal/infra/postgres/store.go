package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-session-service/internal/domain"
)

const uniqueViolation = "23505"

// Store keeps quiz sessions and members as JSONB documents in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) AddSession(ctx context.Context, session domain.QuizSession) (domain.QuizSession, error) {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	data, err := json.Marshal(session)
	if err != nil {
		return domain.QuizSession{}, fmt.Errorf("marshal session: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO quiz_sessions (id, name_key, data) VALUES ($1, $2, $3)`,
		session.ID, domain.SessionKey(session.Name), data)
	if isUniqueViolation(err) {
		return domain.QuizSession{}, domain.Duplicate("quiz session", session.Name)
	}
	if err != nil {
		return domain.QuizSession{}, fmt.Errorf("insert session: %w", err)
	}
	return session, nil
}

func (s *Store) FindSessionByName(ctx context.Context, name string) (domain.QuizSession, error) {
	return s.findSession(ctx, s.pool, `SELECT id, data FROM quiz_sessions WHERE name_key=$1`, domain.SessionKey(name), name)
}

func (s *Store) UpdateSession(ctx context.Context, id string, update domain.SessionUpdate) error {
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		session, err := s.findSession(ctx, tx, `SELECT id, data FROM quiz_sessions WHERE id=$1 FOR UPDATE`, id, id)
		if err != nil {
			return err
		}
		update.Apply(&session)
		data, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE quiz_sessions SET data=$2, updated_at=now() WHERE id=$1`, id, data); err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		return nil
	})
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM quiz_sessions WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("quiz session", id)
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (s *Store) findSession(ctx context.Context, q querier, sql string, arg interface{}, label string) (domain.QuizSession, error) {
	var (
		id  string
		raw []byte
	)
	err := q.QueryRow(ctx, sql, arg).Scan(&id, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.QuizSession{}, domain.NotFound("quiz session", label)
	}
	if err != nil {
		return domain.QuizSession{}, fmt.Errorf("load session: %w", err)
	}
	var session domain.QuizSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return domain.QuizSession{}, fmt.Errorf("unmarshal session: %w", err)
	}
	session.ID = id
	return session, nil
}

func (s *Store) AddMember(ctx context.Context, member domain.Member) (domain.Member, error) {
	if member.ID == "" {
		member.ID = uuid.NewString()
	}
	data, err := json.Marshal(member)
	if err != nil {
		return domain.Member{}, fmt.Errorf("marshal member: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO quiz_members (id, session_key, name, data, joined_at) VALUES ($1, $2, $3, $4, $5)`,
		member.ID, domain.SessionKey(member.SessionName), member.Name, data, member.JoinedAt)
	if isUniqueViolation(err) {
		return domain.Member{}, domain.Duplicate("member", member.Name)
	}
	if err != nil {
		return domain.Member{}, fmt.Errorf("insert member: %w", err)
	}
	return member, nil
}

func (s *Store) FindMember(ctx context.Context, sessionName, memberName string) (domain.Member, error) {
	return s.findMember(ctx, s.pool, `SELECT data FROM quiz_members WHERE session_key=$1 AND name=$2`, sessionName, memberName)
}

func (s *Store) findMember(ctx context.Context, q querier, sql, sessionName, memberName string) (domain.Member, error) {
	var raw []byte
	err := q.QueryRow(ctx, sql, domain.SessionKey(sessionName), memberName).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Member{}, domain.NotFound("member", memberName)
	}
	if err != nil {
		return domain.Member{}, fmt.Errorf("load member: %w", err)
	}
	var member domain.Member
	if err := json.Unmarshal(raw, &member); err != nil {
		return domain.Member{}, fmt.Errorf("unmarshal member: %w", err)
	}
	return member, nil
}

func (s *Store) FindMembersOfSession(ctx context.Context, sessionName string) ([]domain.Member, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM quiz_members WHERE session_key=$1 ORDER BY joined_at, name`,
		domain.SessionKey(sessionName))
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}
	defer rows.Close()

	var members []domain.Member
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		var member domain.Member
		if err := json.Unmarshal(raw, &member); err != nil {
			return nil, fmt.Errorf("unmarshal member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

func (s *Store) UpdateResponse(ctx context.Context, sessionName, memberName string, index int, response domain.Response) error {
	if index < 0 {
		return domain.InvalidState("member", memberName, "negative response index")
	}
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		member, err := s.findMember(ctx, tx,
			`SELECT data FROM quiz_members WHERE session_key=$1 AND name=$2 FOR UPDATE`, sessionName, memberName)
		if err != nil {
			return err
		}
		if index >= len(member.Responses) {
			member.Responses = append(member.Responses, domain.EmptyResponses(index+1-len(member.Responses))...)
		}
		member.Responses[index] = response
		return saveMember(ctx, tx, member)
	})
}

func (s *Store) ClearResponsesOfMembers(ctx context.Context, sessionName string, questionCount int) error {
	return s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT data FROM quiz_members WHERE session_key=$1 FOR UPDATE`, domain.SessionKey(sessionName))
		if err != nil {
			return fmt.Errorf("load members: %w", err)
		}
		var members []domain.Member
		for rows.Next() {
			var raw []byte
			if err := rows.Scan(&raw); err != nil {
				rows.Close()
				return fmt.Errorf("scan member: %w", err)
			}
			var member domain.Member
			if err := json.Unmarshal(raw, &member); err != nil {
				rows.Close()
				return fmt.Errorf("unmarshal member: %w", err)
			}
			members = append(members, member)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, member := range members {
			member.Responses = domain.EmptyResponses(questionCount)
			if err := saveMember(ctx, tx, member); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) RemoveMembersOfSession(ctx context.Context, sessionName string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM quiz_members WHERE session_key=$1`, domain.SessionKey(sessionName)); err != nil {
		return fmt.Errorf("delete members: %w", err)
	}
	return nil
}

func saveMember(ctx context.Context, tx pgx.Tx, member domain.Member) error {
	data, err := json.Marshal(member)
	if err != nil {
		return fmt.Errorf("marshal member: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE quiz_members SET data=$2 WHERE id=$1`, member.ID, data); err != nil {
		return fmt.Errorf("update member: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
