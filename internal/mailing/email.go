package mailing

// Email is one message handed to a mail transport. The execution engine
// always sends single-receiver emails; multi-receiver values occur only
// in tests and ad-hoc tooling.
type Email struct {
	Headers     map[string]string
	Subject     string
	HTML        string
	ReplyTo     string
	Receivers   []Receiver
	Attachments []Attachment
}

// Attachment is an in-memory file attached to an email.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}
