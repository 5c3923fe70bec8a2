package domain

// CommandType is the verb of a command sent from the cloud to an edge node.
type CommandType string

const (
	CmdEmergencyStop  CommandType = "EMERGENCY_STOP"
	CmdResetEmergency CommandType = "RESET_EMERGENCY"
	CmdStart          CommandType = "START"
	CmdStop           CommandType = "STOP"
	CmdManual         CommandType = "MANUAL"
	CmdUpdateProgram  CommandType = "UPDATE_PROGRAM"
)

// Command result values reported back in the acknowledgement.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Command is a decoded command. Params keeps every field of the original body
// so the acknowledgement can echo it.
type Command struct {
	Type   CommandType
	LogID  string
	Params map[string]any
}

// Int returns an integer parameter. JSON numbers decode as float64.
func (c Command) Int(key string) (int, bool) {
	switch v := c.Params[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}

// String returns a string parameter.
func (c Command) String(key string) (string, bool) {
	v, ok := c.Params[key].(string)
	return v, ok
}

// Bool returns a boolean parameter.
func (c Command) Bool(key string) (bool, bool) {
	v, ok := c.Params[key].(bool)
	return v, ok
}

// CommandAck is the outcome of a command execution as stored by the cloud.
type CommandAck struct {
	LogID  string
	Type   CommandType
	Result string
	Error  string
}
