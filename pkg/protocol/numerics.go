package protocol

// Numeric reply codes. Names follow RFC 1459/2812 and the modern IRC client
// protocol document.
const (
	RplWelcome       = "001"
	RplYourHost      = "002"
	RplCreated       = "003"
	RplMyInfo        = "004"
	RplISupport      = "005"
	RplUModeIs       = "221"
	RplEndOfWho      = "315"
	RplChannelModeIs = "324"
	RplCreationTime  = "329"
	RplNoTopic       = "331"
	RplTopic         = "332"
	RplTopicWhoTime  = "333"
	RplInviting      = "341"
	RplWhoReply      = "352"
	RplNamReply      = "353"
	RplEndOfNames    = "366"
	RplEndOfBanList  = "368"
	RplMotd          = "372"
	RplMotdStart     = "375"
	RplEndOfMotd     = "376"

	ErrNoSuchNick        = "401"
	ErrNoSuchChannel     = "403"
	ErrCannotSendToChan  = "404"
	ErrTooManyChannels   = "405"
	ErrNoOrigin          = "409"
	ErrInvalidCapCmd     = "410"
	ErrNoRecipient       = "411"
	ErrNoTextToSend      = "412"
	ErrInputTooLong      = "417"
	ErrUnknownCommand    = "421"
	ErrNoMotd            = "422"
	ErrNoNicknameGiven   = "431"
	ErrErroneusNickname  = "432"
	ErrNicknameInUse     = "433"
	ErrUserNotInChannel  = "441"
	ErrNotOnChannel      = "442"
	ErrUserOnChannel     = "443"
	ErrNotRegistered     = "451"
	ErrNeedMoreParams    = "461"
	ErrAlreadyRegistered = "462"
	ErrPasswdMismatch    = "464"
	ErrKeySet            = "467"
	ErrInvalidUsername   = "468"
	ErrChannelIsFull     = "471"
	ErrUnknownMode       = "472"
	ErrInviteOnlyChan    = "473"
	ErrBadChannelKey     = "475"
	ErrBadChanMask       = "476"
	ErrChanOPrivsNeeded  = "482"
	ErrUModeUnknownFlag  = "501"
	ErrUsersDontMatch    = "502"
	ErrInvalidModeParam  = "696"
)
