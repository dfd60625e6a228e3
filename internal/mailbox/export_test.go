package mailbox

var IsWrongType = isWrongType
