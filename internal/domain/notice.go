package domain

// Notice is a user-facing message raised by the wizard, for example after an
// export attempt. It is a closed set: only the four types below implement it,
// so a type switch over Notice covers every case.
type Notice interface {
	isNotice()
	Title() string
	Body() string
}

// InfoNotice is a neutral informational message.
type InfoNotice struct {
	Heading string
	Message string
}

// SuccessNotice reports a completed action.
type SuccessNotice struct {
	Heading string
	Message string
}

// ErrorNotice reports a failure the user must know about.
type ErrorNotice struct {
	Heading string
	Message string
	Code    string
}

// ConfirmNotice asks the user to confirm a destructive action.
// Both callbacks are mandatory.
type ConfirmNotice struct {
	Heading   string
	Message   string
	OnConfirm func()
	OnCancel  func()
}

func (InfoNotice) isNotice()    {}
func (SuccessNotice) isNotice() {}
func (ErrorNotice) isNotice()   {}
func (ConfirmNotice) isNotice() {}

func (n InfoNotice) Title() string    { return n.Heading }
func (n SuccessNotice) Title() string { return n.Heading }
func (n ErrorNotice) Title() string   { return n.Heading }
func (n ConfirmNotice) Title() string { return n.Heading }

func (n InfoNotice) Body() string    { return n.Message }
func (n SuccessNotice) Body() string { return n.Message }
func (n ErrorNotice) Body() string   { return n.Message }
func (n ConfirmNotice) Body() string { return n.Message }

// NewConfirmNotice builds a ConfirmNotice. Nil callbacks are replaced with
// no-ops so callers can always invoke them.
func NewConfirmNotice(heading, message string, onConfirm, onCancel func()) ConfirmNotice {
	if onConfirm == nil {
		onConfirm = func() {}
	}
	if onCancel == nil {
		onCancel = func() {}
	}
	return ConfirmNotice{
		Heading:   heading,
		Message:   message,
		OnConfirm: onConfirm,
		OnCancel:  onCancel,
	}
}

// NoticeKind returns a stable identifier for the notice variant.
func NoticeKind(n Notice) string {
	switch n.(type) {
	case InfoNotice:
		return "info"
	case SuccessNotice:
		return "success"
	case ErrorNotice:
		return "error"
	case ConfirmNotice:
		return "confirm"
	}
	return "info"
}
