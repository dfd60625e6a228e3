package example

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

type DeliveryMode string

const DeliveryPull DeliveryMode = "pull"

type State string

const StatePending State = "pending"

type Message struct {
	Direction Direction
	Body      string
}

type Config struct {
	Delivery DeliveryMode
}

type Entry struct {
	State State
}

func bad() {
	m := &Message{}
	m.Direction = "sideways" // want "enum field Direction assigned string literal"

	c := &Config{}
	c.Delivery = "push" // want "enum field Delivery assigned string literal"

	_ = Message{Direction: "inbound"} // want "enum field Direction assigned string literal"
	_ = Entry{State: "confirmed"}     // want "enum field State assigned string literal"
}

func good() {
	m := &Message{}
	m.Direction = DirectionOutbound // OK: using constant
	m.Body = "hello"                // OK: not an enum

	_ = Message{Direction: DirectionInbound, Body: "hi"}
	_ = Config{Delivery: DeliveryPull}
	_ = Entry{State: StatePending}
}

func alsoGood() {
	// OK: Variable, not literal
	d := DirectionInbound
	m := &Message{Direction: d}
	_ = m
}
