package service

import (
	"context"

	"github.com/linego-dev/linego/pkg/thrift"
)

// Talk is the 1:1 and group messaging facade over /S4.
type Talk struct {
	inv *Invoker
}

// NewTalk builds the Talk facade.
func NewTalk(inv *Invoker) *Talk { return &Talk{inv: inv} }

// GetProfile returns the logged-in account.
func (t *Talk) GetProfile(ctx context.Context) (Profile, error) {
	v, err := t.inv.Call(ctx, PathTalk, thrift.ProtocolCompact, "getProfile", nil)
	if err != nil {
		return Profile{}, err
	}
	return profileFrom(v.Fields), nil
}

// GetContact resolves one user mid.
func (t *Talk) GetContact(ctx context.Context, mid string) (Contact, error) {
	args := thrift.Struct{
		thrift.F(2, thrift.NewString(mid)),
	}
	v, err := t.inv.Call(ctx, PathTalk, thrift.ProtocolCompact, "getContact", args)
	if err != nil {
		return Contact{}, err
	}
	return contactFrom(v.Fields), nil
}

// GetContacts resolves several mids in one round trip.
func (t *Talk) GetContacts(ctx context.Context, mids []string) ([]Contact, error) {
	args := thrift.Struct{
		thrift.F(2, thrift.NewStringList(mids)),
	}
	v, err := t.inv.Call(ctx, PathTalk, thrift.ProtocolCompact, "getContacts", args)
	if err != nil {
		return nil, err
	}
	var out []Contact
	for _, el := range v.List {
		if el.Type == thrift.TypeStruct {
			out = append(out, contactFrom(el.Fields))
		}
	}
	return out, nil
}

// GetAllChatMids lists the chats the account participates in.
func (t *Talk) GetAllChatMids(ctx context.Context) ([]string, error) {
	args := thrift.Struct{
		thrift.F(1, thrift.NewStruct(thrift.Struct{
			thrift.F(1, thrift.NewBool(true)), // withMemberChats
			thrift.F(2, thrift.NewBool(false)),
		})),
	}
	v, err := t.inv.Call(ctx, PathTalk, thrift.ProtocolCompact, "getAllChatMids", args)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, el := range v.Fields.FieldList(1) {
		if el.Type == thrift.TypeBinary {
			out = append(out, el.String())
		}
	}
	return out, nil
}

// SendMessage sends a text message to a user or group chat.
func (t *Talk) SendMessage(ctx context.Context, to, text string) (Message, error) {
	args := thrift.Struct{
		thrift.F(1, thrift.NewI32(0)), // reqSeq
		thrift.F(2, thrift.NewStruct(thrift.Struct{
			thrift.F(2, thrift.NewString(to)),
			thrift.F(10, thrift.NewString(text)),
			thrift.F(15, thrift.NewI32(0)), // contentType text
		})),
	}
	v, err := t.inv.Call(ctx, PathTalk, thrift.ProtocolCompact, "sendMessage", args)
	if err != nil {
		return Message{}, err
	}
	return messageFrom(v.Fields), nil
}

// Noop is the keep-alive ping the push session issues between server
// pings.
func (t *Talk) Noop(ctx context.Context) error {
	_, err := t.inv.Call(ctx, PathTalk, thrift.ProtocolCompact, "noop", nil)
	return err
}
