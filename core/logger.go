package core

// Logger reports application events.
// expected args: error, map[string]interface{}, or a value identifying the acting person.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	// Critical reports an event that needs immediate human attention without stopping the process.
	Critical(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}
