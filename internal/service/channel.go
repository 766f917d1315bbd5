package service

import (
	"context"

	"github.com/linego-dev/linego/pkg/thrift"
)

// ChannelToken is an issued channel access grant.
type ChannelToken struct {
	ChannelAccessToken string
	Raw                thrift.Struct
}

// Channel is the channel-token facade over /CH4.
type Channel struct {
	inv *Invoker
}

// NewChannel builds the Channel facade.
func NewChannel(inv *Invoker) *Channel { return &Channel{inv: inv} }

// ApproveAndIssueToken approves a channel for the account and returns its
// access token. Unlike the square methods, the channel id is a bare
// argument, not a request struct.
func (c *Channel) ApproveAndIssueToken(ctx context.Context, channelID string) (ChannelToken, error) {
	args := thrift.Struct{thrift.F(1, thrift.NewString(channelID))}
	v, err := c.inv.Call(ctx, PathChannel, thrift.ProtocolCompact, "approveChannelAndIssueChannelToken", args)
	if err != nil {
		return ChannelToken{}, err
	}
	return ChannelToken{
		ChannelAccessToken: v.Fields.FieldString(5),
		Raw:                v.Fields,
	}, nil
}
