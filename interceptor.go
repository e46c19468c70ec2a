package mqtt5

import "fmt"

// ProducerInterceptor intercepts outbound messages before they are
// published. Interceptors run in configured order, each receiving the
// message produced by the previous one in the chain.
//
// Modeled on Sarama's ProducerInterceptor for Kafka producers.
type ProducerInterceptor interface {
	// OnSend runs before a message is published. It returns the
	// (possibly modified) message to continue the chain, or nil to
	// drop the message entirely.
	//
	// The message is not copied; mutate msg.Clone() instead if the
	// caller must not see the original change underneath it.
	OnSend(msg *Message) *Message
}

// ConsumerInterceptor intercepts inbound messages after they arrive but
// before they reach a subscription handler. Interceptors run in
// configured order, each receiving the message produced by the previous
// one in the chain.
//
// Modeled on Sarama's ConsumerInterceptor for Kafka consumers.
type ConsumerInterceptor interface {
	// OnConsume runs before a received message is delivered to a
	// handler. It returns the (possibly modified) message to continue
	// the chain, or nil to suppress delivery.
	OnConsume(msg *Message) *Message
}

// interceptorChain runs a fixed sequence of message transforms, catching
// panics from any one of them so a misbehaving interceptor degrades the
// pipeline instead of taking the client down.
type interceptorChain[T any] struct {
	steps  []T
	logger EventLogger
	kind   string
	run    func(step T, msg *Message) *Message
}

func (c interceptorChain[T]) apply(msg *Message) *Message {
	current := msg
	for _, step := range c.steps {
		if current == nil {
			return nil
		}
		current = c.safeRun(step, current)
	}
	return current
}

func (c interceptorChain[T]) safeRun(step T, msg *Message) (result *Message) {
	defer func() {
		if r := recover(); r != nil {
			if c.logger != nil {
				c.logger.Error(c.kind+" interceptor panicked", Fields{
					FieldError: panicError(r),
					FieldTopic: msg.Topic,
				})
			}
			result = msg
		}
	}()
	return c.run(step, msg)
}

func panicError(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(r)
}

// applyProducerInterceptors runs interceptors over an outbound message in
// configured order. logger receives a record for any interceptor that
// panics; pass nil to discard it silently.
func applyProducerInterceptors(interceptors []ProducerInterceptor, msg *Message, logger EventLogger) *Message {
	if len(interceptors) == 0 {
		return msg
	}
	chain := interceptorChain[ProducerInterceptor]{
		steps:  interceptors,
		logger: logger,
		kind:   "producer",
		run:    func(step ProducerInterceptor, m *Message) *Message { return step.OnSend(m) },
	}
	return chain.apply(msg)
}

// applyConsumerInterceptors runs interceptors over an inbound message in
// configured order. logger receives a record for any interceptor that
// panics; pass nil to discard it silently.
func applyConsumerInterceptors(interceptors []ConsumerInterceptor, msg *Message, logger EventLogger) *Message {
	if len(interceptors) == 0 {
		return msg
	}
	chain := interceptorChain[ConsumerInterceptor]{
		steps:  interceptors,
		logger: logger,
		kind:   "consumer",
		run:    func(step ConsumerInterceptor, m *Message) *Message { return step.OnConsume(m) },
	}
	return chain.apply(msg)
}
