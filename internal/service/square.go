package service

import (
	"context"

	"github.com/linego-dev/linego/pkg/thrift"
)

// Fetch types for fetchSquareChatEvents; prefetch-by-server includes
// sender profile data in the reply.
const (
	FetchTypeDefault          int32 = 1
	FetchTypePrefetchByServer int32 = 2
)

// Square is the open-chat facade over /SQ1.
type Square struct {
	inv *Invoker
}

// NewSquare builds the Square facade.
func NewSquare(inv *Invoker) *Square { return &Square{inv: inv} }

// FetchMyEvents drains the account-wide square event stream and mints or
// renews the push subscription.
func (s *Square) FetchMyEvents(ctx context.Context, subscriptionID int64, syncToken, continuationToken string, limit int32) (MyEventsPage, error) {
	req := thrift.Struct{}
	if subscriptionID != 0 {
		req = append(req, thrift.F(1, thrift.NewI64(subscriptionID)))
	}
	if syncToken != "" {
		req = append(req, thrift.F(2, thrift.NewString(syncToken)))
	}
	if continuationToken != "" {
		req = append(req, thrift.F(3, thrift.NewString(continuationToken)))
	}
	req = append(req, thrift.F(4, thrift.NewI32(limit)))

	v, err := s.inv.Call(ctx, PathSquare, thrift.ProtocolCompact, "fetchMyEvents", wrap(req))
	if err != nil {
		return MyEventsPage{}, err
	}
	return myEventsPageFrom(v.Fields), nil
}

// FetchChatEvents pages one chat's backlog from syncToken, continuing an
// unfinished page when continuationToken is set.
func (s *Square) FetchChatEvents(ctx context.Context, chatMid, syncToken, continuationToken string, limit, fetchType int32) (ChatEventsPage, error) {
	req := thrift.Struct{
		thrift.F(2, thrift.NewString(chatMid)),
	}
	if syncToken != "" {
		req = append(req, thrift.F(3, thrift.NewString(syncToken)))
	}
	req = append(req,
		thrift.F(4, thrift.NewI32(limit)),
		thrift.F(5, thrift.NewI32(1)), // direction FORWARD
	)
	if continuationToken != "" {
		req = append(req, thrift.F(7, thrift.NewString(continuationToken)))
	}
	req = append(req, thrift.F(8, thrift.NewI32(fetchType)))

	v, err := s.inv.Call(ctx, PathSquare, thrift.ProtocolCompact, "fetchSquareChatEvents", wrap(req))
	if err != nil {
		return ChatEventsPage{}, err
	}
	return chatEventsPageFrom(v.Fields), nil
}

// SendMessage posts a text message into a square chat.
func (s *Square) SendMessage(ctx context.Context, chatMid, text string) (Event, error) {
	msg := thrift.Struct{
		thrift.F(2, thrift.NewString(chatMid)),
		thrift.F(10, thrift.NewString(text)),
		thrift.F(15, thrift.NewI32(0)),
	}
	req := thrift.Struct{
		thrift.F(1, thrift.NewI32(0)), // reqSeq
		thrift.F(2, thrift.NewString(chatMid)),
		thrift.F(3, thrift.NewStruct(thrift.Struct{
			thrift.F(1, thrift.NewStruct(msg)),
			thrift.F(3, thrift.NewI64(4)), // squareMessageRevision
		})),
	}
	v, err := s.inv.Call(ctx, PathSquare, thrift.ProtocolCompact, "sendMessage", wrap(req))
	if err != nil {
		return Event{}, err
	}
	// The reply carries the created event under field 1.
	if created := v.Fields.FieldStruct(1); created != nil {
		return eventFrom(created), nil
	}
	return Event{Raw: v.Fields}, nil
}

// MarkAsRead advances the read marker in a square chat.
func (s *Square) MarkAsRead(ctx context.Context, chatMid, messageID string) error {
	req := thrift.Struct{
		thrift.F(2, thrift.NewString(chatMid)),
		thrift.F(4, thrift.NewString(messageID)),
	}
	_, err := s.inv.Call(ctx, PathSquare, thrift.ProtocolCompact, "markAsRead", wrap(req))
	return err
}

// GetJoinedSquares pages the squares the account belongs to.
func (s *Square) GetJoinedSquares(ctx context.Context, continuationToken string, limit int32) (JoinedSquaresPage, error) {
	req := thrift.Struct{}
	if continuationToken != "" {
		req = append(req, thrift.F(2, thrift.NewString(continuationToken)))
	}
	req = append(req, thrift.F(3, thrift.NewI32(limit)))

	v, err := s.inv.Call(ctx, PathSquare, thrift.ProtocolCompact, "getJoinedSquares", wrap(req))
	if err != nil {
		return JoinedSquaresPage{}, err
	}
	page := JoinedSquaresPage{ContinuationToken: v.Fields.FieldString(2)}
	for _, el := range v.Fields.FieldList(1) {
		if el.Type == thrift.TypeStruct {
			page.Squares = append(page.Squares, SquareInfo{
				MID:  el.Fields.FieldString(1),
				Name: el.Fields.FieldString(2),
				Raw:  el.Fields,
			})
		}
	}
	return page, nil
}

// GetSquare resolves one square mid.
func (s *Square) GetSquare(ctx context.Context, squareMid string) (SquareInfo, error) {
	req := thrift.Struct{thrift.F(2, thrift.NewString(squareMid))}
	v, err := s.inv.Call(ctx, PathSquare, thrift.ProtocolCompact, "getSquare", wrap(req))
	if err != nil {
		return SquareInfo{}, err
	}
	sq := v.Fields.FieldStruct(1)
	if sq == nil {
		sq = v.Fields
	}
	return SquareInfo{MID: sq.FieldString(1), Name: sq.FieldString(2), Raw: sq}, nil
}

// GetSquareChat resolves one square chat mid.
func (s *Square) GetSquareChat(ctx context.Context, chatMid string) (SquareChatInfo, error) {
	req := thrift.Struct{thrift.F(1, thrift.NewString(chatMid))}
	v, err := s.inv.Call(ctx, PathSquare, thrift.ProtocolCompact, "getSquareChat", wrap(req))
	if err != nil {
		return SquareChatInfo{}, err
	}
	sc := v.Fields.FieldStruct(1)
	if sc == nil {
		sc = v.Fields
	}
	return SquareChatInfo{
		MID:       sc.FieldString(1),
		SquareMid: sc.FieldString(2),
		Name:      sc.FieldString(4),
		Raw:       sc,
	}, nil
}

// JoinSquare joins a square under a display name.
func (s *Square) JoinSquare(ctx context.Context, squareMid, displayName string) error {
	member := thrift.Struct{
		thrift.F(2, thrift.NewString(squareMid)),
		thrift.F(3, thrift.NewString(displayName)),
		thrift.F(5, thrift.NewBool(true)), // ableToReceiveMessage
		thrift.F(9, thrift.NewI64(0)),     // revision
	}
	req := thrift.Struct{
		thrift.F(2, thrift.NewString(squareMid)),
		thrift.F(3, thrift.NewStruct(member)),
	}
	_, err := s.inv.Call(ctx, PathSquare, thrift.ProtocolCompact, "joinSquare", wrap(req))
	return err
}

// LeaveSquare leaves a square.
func (s *Square) LeaveSquare(ctx context.Context, squareMid string) error {
	req := thrift.Struct{thrift.F(2, thrift.NewString(squareMid))}
	_, err := s.inv.Call(ctx, PathSquare, thrift.ProtocolCompact, "leaveSquare", wrap(req))
	return err
}

// ReactToMessage attaches a reaction (1 like ... 6 angry) to a message.
func (s *Square) ReactToMessage(ctx context.Context, chatMid, messageID string, reactionType int32) error {
	req := thrift.Struct{
		thrift.F(1, thrift.NewI32(0)), // reqSeq
		thrift.F(2, thrift.NewString(chatMid)),
		thrift.F(3, thrift.NewString(messageID)),
		thrift.F(4, thrift.NewI32(reactionType)),
	}
	_, err := s.inv.Call(ctx, PathSquare, thrift.ProtocolCompact, "reactToMessage", wrap(req))
	return err
}

// FindSquareByInvitationTicket resolves an invite ticket to a square.
func (s *Square) FindSquareByInvitationTicket(ctx context.Context, ticket string) (SquareInfo, error) {
	req := thrift.Struct{thrift.F(2, thrift.NewString(ticket))}
	v, err := s.inv.Call(ctx, PathSquare, thrift.ProtocolCompact, "findSquareByInvitationTicket", wrap(req))
	if err != nil {
		return SquareInfo{}, err
	}
	sq := v.Fields.FieldStruct(1)
	if sq == nil {
		sq = v.Fields
	}
	return SquareInfo{MID: sq.FieldString(1), Name: sq.FieldString(2), Raw: sq}, nil
}

// wrap nests a request struct at field 1, the argument convention every
// square method shares.
func wrap(req thrift.Struct) thrift.Struct {
	return thrift.Struct{thrift.F(1, thrift.NewStruct(req))}
}
