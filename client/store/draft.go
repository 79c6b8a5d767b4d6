package store

import "rtchat/models"

type IntentKind int

const (
	NewMessage IntentKind = iota
	EditMessage
)

func (k IntentKind) String() string {
	if k == EditMessage {
		return "edit"
	}
	return "new"
}

// DraftIntent says what submitting a draft does. It is fixed when the draft
// is created.
type DraftIntent struct {
	Kind     IntentKind
	TargetID string // message being edited, EditMessage only
}

// Draft is the message being composed.
type Draft struct {
	Intent      DraftIntent
	RecipientID string
	Content     string
}

func NewDraft(recipientID string) Draft {
	return Draft{
		Intent:      DraftIntent{Kind: NewMessage},
		RecipientID: recipientID,
	}
}

// EditDraft starts editing msg with its current content.
func EditDraft(msg models.Message) Draft {
	return Draft{
		Intent:      DraftIntent{Kind: EditMessage, TargetID: msg.ID},
		RecipientID: msg.ReceiverID,
		Content:     msg.Content,
	}
}

func (d Draft) IsEdit() bool {
	return d.Intent.Kind == EditMessage
}
