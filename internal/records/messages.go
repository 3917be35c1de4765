package records

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"sphere-health-server/internal/fieldcrypt"
	"sphere-health-server/internal/models"
	"sphere-health-server/internal/session"
	"sphere-health-server/internal/users"
)

// NewMessage is a message from the caller to ReceiverID.
type NewMessage struct {
	ReceiverID string
	Subject    string
	Content    string
	ParentID   string
}

// MessageView is a message as returned to callers.
type MessageView struct {
	ID                string               `json:"id"`
	SenderID          string               `json:"sender_id"`
	ReceiverID        string               `json:"receiver_id"`
	ParentID          string               `json:"parent_id,omitempty"`
	Sender            *users.Summary       `json:"sender"`
	Receiver          *users.Summary       `json:"receiver"`
	Subject           *string              `json:"subject"`
	Content           *string              `json:"content"`
	Status            models.MessageStatus `json:"status"`
	ReadAt            *time.Time           `json:"read_at"`
	IntegrityVerified bool                 `json:"integrity_verified"`
	CreatedAt         time.Time            `json:"created_at"`
}

// Conversation is the latest message exchanged with one partner.
type Conversation struct {
	Partner     *users.Summary `json:"partner"`
	LastMessage MessageView    `json:"last_message"`
	UnreadCount int64          `json:"unread_count"`
}

// SendMessage delivers a message. Patients and doctors write to each other,
// admins to anyone, and nobody to themselves.
func (s *Service) SendMessage(ctx context.Context, sess *session.Session, in NewMessage) (*MessageView, error) {
	if sess.Is(in.ReceiverID) || strings.TrimSpace(in.Content) == "" {
		return nil, ErrInvalidInput
	}
	receiver, err := s.users.FindByID(ctx, in.ReceiverID)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}
	if !receiver.IsActive {
		return nil, ErrRecipientNotFound
	}
	if !sess.Role.CanMessage(receiver.Role) {
		return nil, ErrForbidden
	}
	if in.ParentID != "" {
		var parent models.Message
		if err := s.db.WithContext(ctx).First(&parent, "id = ?", in.ParentID).Error; err != nil {
			return nil, notFound(err)
		}
		if !sess.Is(parent.SenderID) && !sess.Is(parent.ReceiverID) {
			return nil, ErrForbidden
		}
	}

	sealed, err := s.engine.EncryptFields(map[string]string{
		fieldcrypt.FieldSubject: in.Subject,
		fieldcrypt.FieldContent: in.Content,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to seal message: %w", err)
	}
	m := &models.Message{
		SenderID:   sess.UserID,
		ReceiverID: receiver.ID,
		ParentID:   in.ParentID,
		SubjectEnc: sealed[fieldcrypt.FieldSubject],
		ContentEnc: sealed[fieldcrypt.FieldContent],
		Status:     models.MessageStatusSent,
	}
	m.Stamp()
	m.MAC = s.mac.Sign(messageFields(m)...)

	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	s.log.Info().Str("message_id", m.ID).Str("sender_id", m.SenderID).Str("receiver_id", m.ReceiverID).Msg("message sent")
	return s.messageView(ctx, m)
}

// ListMessages returns the caller's messages, oldest first. With a partner
// set only that conversation is returned and what the partner sent is
// marked read.
func (s *Service) ListMessages(ctx context.Context, sess *session.Session, partnerID string) ([]MessageView, error) {
	q := s.db.WithContext(ctx).Order("created_at asc")
	if partnerID != "" {
		q = q.Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			sess.UserID, partnerID, partnerID, sess.UserID)
	} else {
		q = q.Where("sender_id = ? OR receiver_id = ?", sess.UserID, sess.UserID)
	}

	var list []models.Message
	if err := q.Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	if partnerID != "" {
		now := s.now()
		res := s.db.WithContext(ctx).Model(&models.Message{}).
			Where("sender_id = ? AND receiver_id = ? AND status = ?", partnerID, sess.UserID, models.MessageStatusSent).
			Updates(map[string]interface{}{"status": models.MessageStatusRead, "read_at": now})
		if res.Error != nil {
			return nil, fmt.Errorf("failed to mark messages read: %w", res.Error)
		}
		for i := range list {
			if list[i].ReceiverID == sess.UserID && list[i].Status == models.MessageStatusSent {
				list[i].Status = models.MessageStatusRead
				list[i].ReadAt = &now
			}
		}
	}
	return s.messageViews(ctx, list)
}

// MessagesSince returns the caller's messages created after since, newest
// first. Nothing is marked read.
func (s *Service) MessagesSince(ctx context.Context, sess *session.Session, since time.Time) ([]MessageView, error) {
	var list []models.Message
	err := s.db.WithContext(ctx).
		Where("(sender_id = ? OR receiver_id = ?) AND created_at > ?", sess.UserID, sess.UserID, since.UTC()).
		Order("created_at desc").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return s.messageViews(ctx, list)
}

// Conversations returns one entry per partner with the latest message and the
// number of unread messages from them, most recent first.
func (s *Service) Conversations(ctx context.Context, sess *session.Session) ([]Conversation, error) {
	var partners []struct {
		PartnerID string `gorm:"column:partner_id"`
	}
	err := s.db.WithContext(ctx).Raw(`
		SELECT DISTINCT partner_id FROM (
			SELECT receiver_id AS partner_id FROM messages WHERE sender_id = ?
			UNION
			SELECT sender_id AS partner_id FROM messages WHERE receiver_id = ?
		) AS partners
	`, sess.UserID, sess.UserID).Scan(&partners).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch conversation partners: %w", err)
	}

	latest := make([]models.Message, 0, len(partners))
	unread := make(map[string]int64, len(partners))
	for _, p := range partners {
		var last models.Message
		err := s.db.WithContext(ctx).
			Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
				sess.UserID, p.PartnerID, p.PartnerID, sess.UserID).
			Order("created_at desc").First(&last).Error
		if err != nil {
			return nil, fmt.Errorf("failed to fetch last message: %w", err)
		}
		var n int64
		err = s.db.WithContext(ctx).Model(&models.Message{}).
			Where("sender_id = ? AND receiver_id = ? AND status = ?", p.PartnerID, sess.UserID, models.MessageStatusSent).
			Count(&n).Error
		if err != nil {
			return nil, fmt.Errorf("failed to count unread messages: %w", err)
		}
		latest = append(latest, last)
		unread[p.PartnerID] = n
	}

	views, err := s.messageViews(ctx, latest)
	if err != nil {
		return nil, err
	}
	out := make([]Conversation, len(views))
	for i, v := range views {
		partner := v.Receiver
		partnerID := v.ReceiverID
		if v.ReceiverID == sess.UserID {
			partner = v.Sender
			partnerID = v.SenderID
		}
		out[i] = Conversation{Partner: partner, LastMessage: v, UnreadCount: unread[partnerID]}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessage.CreatedAt.After(out[j].LastMessage.CreatedAt)
	})
	return out, nil
}

// MarkRead marks a message read. Only its receiver may.
func (s *Service) MarkRead(ctx context.Context, sess *session.Session, id string) (*MessageView, error) {
	var m models.Message
	if err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	if !sess.Is(m.ReceiverID) {
		return nil, ErrForbidden
	}
	if m.Status != models.MessageStatusRead {
		now := s.now()
		err := s.db.WithContext(ctx).Model(&m).Updates(map[string]interface{}{
			"status":  models.MessageStatusRead,
			"read_at": now,
		}).Error
		if err != nil {
			return nil, fmt.Errorf("failed to update message status: %w", err)
		}
		m.Status = models.MessageStatusRead
		m.ReadAt = &now
	}
	return s.messageView(ctx, &m)
}

func (s *Service) messageView(ctx context.Context, m *models.Message) (*MessageView, error) {
	views, err := s.messageViews(ctx, []models.Message{*m})
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

func (s *Service) messageViews(ctx context.Context, list []models.Message) ([]MessageView, error) {
	ids := make([]string, 0, 2*len(list))
	for i := range list {
		ids = append(ids, list[i].SenderID, list[i].ReceiverID)
	}
	people, err := s.people(ctx, ids...)
	if err != nil {
		return nil, err
	}

	out := make([]MessageView, len(list))
	for i := range list {
		m := &list[i]
		o := s.opener("message", m.ID)
		v := MessageView{
			ID:         m.ID,
			SenderID:   m.SenderID,
			ReceiverID: m.ReceiverID,
			ParentID:   m.ParentID,
			Sender:     s.summary(people, m.SenderID),
			Receiver:   s.summary(people, m.ReceiverID),
			Subject:    o.open(fieldcrypt.FieldSubject, m.SubjectEnc),
			Content:    o.open(fieldcrypt.FieldContent, m.ContentEnc),
			Status:     m.Status,
			ReadAt:     m.ReadAt,
			CreatedAt:  m.CreatedAt,
		}
		v.IntegrityVerified = s.mac.Verify(m.MAC, messageFields(m)...) && o.ok
		out[i] = v
	}
	return out, nil
}
