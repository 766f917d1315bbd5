package service

import "github.com/linego-dev/linego/pkg/thrift"

// Profile is the logged-in account, from getProfile.
type Profile struct {
	MID           string
	DisplayName   string
	PictureStatus string
	StatusMessage string
	Raw           thrift.Struct
}

func profileFrom(s thrift.Struct) Profile {
	return Profile{
		MID:           s.FieldString(1),
		DisplayName:   s.FieldString(20),
		PictureStatus: s.FieldString(22),
		StatusMessage: s.FieldString(24),
		Raw:           s,
	}
}

// Contact is another user, from getContact(s).
type Contact struct {
	MID           string
	DisplayName   string
	PictureStatus string
	StatusMessage string
	Raw           thrift.Struct
}

func contactFrom(s thrift.Struct) Contact {
	return Contact{
		MID:           s.FieldString(1),
		DisplayName:   s.FieldString(22),
		PictureStatus: s.FieldString(24),
		StatusMessage: s.FieldString(26),
		Raw:           s,
	}
}

// Message is a chat message in either Talk or Square form.
type Message struct {
	From             string
	To               string
	ID               string
	CreatedTime      int64
	Text             string
	ContentType      int32
	ContentMetadata  map[string]string
	RelatedMessageID string
	Raw              thrift.Struct
}

func messageFrom(s thrift.Struct) Message {
	return Message{
		From:             s.FieldString(1),
		To:               s.FieldString(2),
		ID:               s.FieldString(4),
		CreatedTime:      s.FieldInt(5),
		Text:             s.FieldString(10),
		ContentType:      int32(s.FieldInt(15)),
		ContentMetadata:  s.FieldStringMap(18),
		RelatedMessageID: s.FieldString(21),
		Raw:              s,
	}
}

// Square event types with message payloads.
const (
	EventReceiveMessage     int32 = 0
	EventSendMessage        int32 = 1
	EventNotifiedMarkAsRead int32 = 6
)

// Event is one square chat event. Message is set for send/receive
// message events; Raw always keeps the full struct.
type Event struct {
	CreatedTime       int64
	Type              int32
	ChatMid           string
	SenderDisplayName string
	Message           *Message
	Raw               thrift.Struct
}

func eventFrom(s thrift.Struct) Event {
	ev := Event{
		CreatedTime: s.FieldInt(1),
		Type:        int32(s.FieldInt(2)),
		Raw:         s,
	}
	payload := s.FieldStruct(3)
	if payload == nil {
		return ev
	}
	// The payload is a union keyed by event type; message-bearing slots
	// share one shape.
	var body thrift.Struct
	switch ev.Type {
	case EventReceiveMessage:
		body = payload.FieldStruct(1)
	case EventSendMessage:
		body = payload.FieldStruct(2)
	default:
		return ev
	}
	if body == nil {
		return ev
	}
	ev.ChatMid = body.FieldString(1)
	ev.SenderDisplayName = body.FieldString(3)
	if sqMsg := body.FieldStruct(2); sqMsg != nil {
		if msg := sqMsg.FieldStruct(1); msg != nil {
			m := messageFrom(msg)
			ev.Message = &m
		}
	}
	return ev
}

// ChatEventsPage is a fetchSquareChatEvents result.
type ChatEventsPage struct {
	Events            []Event
	SyncToken         string
	ContinuationToken string
}

func chatEventsPageFrom(s thrift.Struct) ChatEventsPage {
	page := ChatEventsPage{
		SyncToken:         s.FieldString(2),
		ContinuationToken: s.FieldString(3),
	}
	for _, el := range s.FieldList(1) {
		if el.Type == thrift.TypeStruct {
			page.Events = append(page.Events, eventFrom(el.Fields))
		}
	}
	return page
}

// MyEventsPage is a fetchMyEvents result; the subscription block carries
// the id the push session must present.
type MyEventsPage struct {
	SubscriptionID    int64
	TTLMillis         int64
	Events            []Event
	SyncToken         string
	ContinuationToken string
}

func myEventsPageFrom(s thrift.Struct) MyEventsPage {
	page := MyEventsPage{
		SyncToken:         s.FieldString(3),
		ContinuationToken: s.FieldString(4),
	}
	if sub := s.FieldStruct(1); sub != nil {
		page.SubscriptionID = sub.FieldInt(1)
		page.TTLMillis = sub.FieldInt(2)
	}
	for _, el := range s.FieldList(2) {
		if el.Type == thrift.TypeStruct {
			page.Events = append(page.Events, eventFrom(el.Fields))
		}
	}
	return page
}

// MyEventsPageFrom decodes a fetchMyEvents result struct. The push
// session hands sign-on replies here.
func MyEventsPageFrom(s thrift.Struct) MyEventsPage { return myEventsPageFrom(s) }

// SquareInfo is a square (open chat community).
type SquareInfo struct {
	MID  string
	Name string
	Raw  thrift.Struct
}

// SquareChatInfo is one chat room inside a square.
type SquareChatInfo struct {
	MID       string
	SquareMid string
	Name      string
	Raw       thrift.Struct
}

// JoinedSquaresPage is a getJoinedSquares result.
type JoinedSquaresPage struct {
	Squares           []SquareInfo
	ContinuationToken string
}

// TokenInfo is a v3 token grant.
type TokenInfo struct {
	AccessToken  string
	RefreshToken string
	ExpiresInSec int64
	IssuedAtSec  int64
}

// TokenInfoFrom decodes the TokenInfo wire struct.
func TokenInfoFrom(s thrift.Struct) TokenInfo {
	return TokenInfo{
		AccessToken:  s.FieldString(1),
		RefreshToken: s.FieldString(2),
		ExpiresInSec: s.FieldInt(3),
		IssuedAtSec:  s.FieldInt(6),
	}
}
