package security

import (
	"github.com/owlhub/platform/pkg/memory/store"
)

// Channel identifies where recalled content is delivered. Masking is
// channel-aware: exports that leave the trust boundary get sensitive
// content masked, in-process consumers do not.
type Channel string

const (
	ChannelInternal Channel = "internal"
	ChannelMCP      Channel = "mcp"
	ChannelLangfuse Channel = "langfuse"
)

// maskedPlaceholder replaces content that may not cross the channel.
const maskedPlaceholder = "[MASKED: content withheld for this channel]"

// Filter applies channel-aware masking to recalled entries.
type Filter struct {
	// sensitiveChannels are channels on which confidential and restricted
	// content is masked.
	sensitiveChannels map[Channel]struct{}
}

// NewFilter creates a filter masking sensitive levels on the mcp and
// langfuse channels.
func NewFilter() *Filter {
	return &Filter{
		sensitiveChannels: map[Channel]struct{}{
			ChannelMCP:      {},
			ChannelLangfuse: {},
		},
	}
}

// MaskEntry returns the entry content, masked when the entry's level is
// confidential or restricted and the channel is sensitive.
func (f *Filter) MaskEntry(entry *store.Entry, channel Channel) string {
	if !f.shouldMask(entry.SecurityLevel, channel) {
		return entry.Content
	}
	return maskedPlaceholder
}

// Apply masks entries in place (the slice holds caller-owned copies).
func (f *Filter) Apply(entries []*store.Entry, channel Channel) {
	for _, e := range entries {
		e.Content = f.MaskEntry(e, channel)
	}
}

func (f *Filter) shouldMask(level store.SecurityLevel, channel Channel) bool {
	if _, sensitive := f.sensitiveChannels[channel]; !sensitive {
		return false
	}
	return level == store.LevelConfidential || level == store.LevelRestricted
}
