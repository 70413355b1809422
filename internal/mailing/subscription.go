package mailing

// SubscriptionRequest is a pending double-opt-in entry. Stored with a
// TTL so unconfirmed requests expire on their own.
type SubscriptionRequest struct {
	Email        string                 `json:"email"`
	MailingID    int64                  `json:"mailingId"`
	Code         string                 `json:"code"`
	Name         string                 `json:"name,omitempty"`
	PeriodicDate string                 `json:"periodicDate,omitempty"`
	ExtraData    map[string]interface{} `json:"extraData,omitempty"`
}

// Receiver converts a confirmed request into the receiver appended to
// the mailing's list. The confirmation code is carried over so the same
// code keeps working for unsubscribing.
func (r *SubscriptionRequest) Receiver() Receiver {
	return Receiver{
		Email:        r.Email,
		Name:         r.Name,
		Code:         r.Code,
		PeriodicDate: r.PeriodicDate,
		ExtraData:    r.ExtraData,
	}
}
