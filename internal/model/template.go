package model

// Template holds the per-event-type message templates. Placeholders use
// {{name}} syntax and are substituted from the notification's data map.
type Template struct {
	Type         string
	EmailSubject string
	EmailBody    string
	PushTitle    string
	PushBody     string
	Active       bool
}
