package stomp

// Command is a STOMP command and often the first line in a STOMP frame.
type Command string

const (
	CommandAbort       Command = "ABORT"
	CommandAck         Command = "ACK"
	CommandBegin       Command = "BEGIN"
	CommandCommit      Command = "COMMIT"
	CommandConnect     Command = "CONNECT"
	CommandConnected   Command = "CONNECTED"
	CommandDisconnect  Command = "DISCONNECT"
	CommandError       Command = "ERROR"
	CommandMessage     Command = "MESSAGE"
	CommandNack        Command = "NACK"
	CommandReceipt     Command = "RECEIPT"
	CommandSend        Command = "SEND"
	CommandStomp       Command = "STOMP"
	CommandSubscribe   Command = "SUBSCRIBE"
	CommandUnsubscribe Command = "UNSUBSCRIBE"

	// CommandUnknown is assigned to parsed frames whose verb is not recognized; the
	// original text is kept in Frame.Verb.
	CommandUnknown Command = "UNKNOWN"
)

// commands maps wire text to known commands.
var commands = map[string]Command{
	string(CommandAbort):       CommandAbort,
	string(CommandAck):         CommandAck,
	string(CommandBegin):       CommandBegin,
	string(CommandCommit):      CommandCommit,
	string(CommandConnect):     CommandConnect,
	string(CommandConnected):   CommandConnected,
	string(CommandDisconnect):  CommandDisconnect,
	string(CommandError):       CommandError,
	string(CommandMessage):     CommandMessage,
	string(CommandNack):        CommandNack,
	string(CommandReceipt):     CommandReceipt,
	string(CommandSend):        CommandSend,
	string(CommandStomp):       CommandStomp,
	string(CommandSubscribe):   CommandSubscribe,
	string(CommandUnsubscribe): CommandUnsubscribe,
}

// ParseCommand returns the Command for the given text.  Unrecognized text returns
// CommandUnknown and false.
func ParseCommand(s string) (Command, bool) {
	if c, ok := commands[s]; ok {
		return c, true
	}
	return CommandUnknown, false
}

// HasBody returns true if frames with this command may carry a body.
func (c Command) HasBody() bool {
	switch c {
	case CommandSend, CommandMessage, CommandError, CommandUnknown:
		return true
	}
	return false
}

// RawEscapes returns true for commands whose headers only escape the backslash.
func (c Command) RawEscapes() bool {
	return c == CommandConnect || c == CommandConnected
}
