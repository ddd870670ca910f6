package bleproxy

// ProxyOption is an interface which the proxy should implement to allow using configuration options
type ProxyOption interface {
	SetLeAclCreditsToReserve(n uint16) error
	SetBrEdrAclCreditsToReserve(n uint16) error
	SetTxBufferPool(count, size int) error
	SetMaxChannels(n int) error
	SetLogger(l Logger) error
	SetErrorHandler(handler func(error)) error
}

// An Option is a configuration function, which configures the proxy.
type Option func(ProxyOption) error

// OptLeAclCreditsToReserve sets how many LE ACL send credits the proxy takes
// from the controller's total before the host sees it.
func OptLeAclCreditsToReserve(n uint16) Option {
	return func(opt ProxyOption) error {
		return opt.SetLeAclCreditsToReserve(n)
	}
}

// OptBrEdrAclCreditsToReserve sets how many BR/EDR ACL send credits the proxy reserves.
func OptBrEdrAclCreditsToReserve(n uint16) Option {
	return func(opt ProxyOption) error {
		return opt.SetBrEdrAclCreditsToReserve(n)
	}
}

// OptTxBufferPool sizes the pool of transmit buffers. size includes the H4
// type byte and the ACL header.
func OptTxBufferPool(count, size int) Option {
	return func(opt ProxyOption) error {
		return opt.SetTxBufferPool(count, size)
	}
}

// OptMaxChannels caps the number of simultaneously acquired channels.
func OptMaxChannels(n int) Option {
	return func(opt ProxyOption) error {
		return opt.SetMaxChannels(n)
	}
}

// OptLogger overrides the package logger for one proxy instance.
func OptLogger(l Logger) Option {
	return func(opt ProxyOption) error {
		return opt.SetLogger(l)
	}
}

// OptErrorHandler sets error handler
func OptErrorHandler(handler func(error)) Option {
	return func(opt ProxyOption) error {
		return opt.SetErrorHandler(handler)
	}
}
