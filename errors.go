package reactor

import "errors"

var (
	// ErrInvalidArgument 参数非法
	ErrInvalidArgument = errors.New("reactor: invalid argument")

	// ErrLoopExists 当前线程已经存在一个 EventLoop
	ErrLoopExists = errors.New("reactor: another EventLoop exists in this thread")

	// ErrNotInLoopThread 在非所属线程调用了仅限 loop 线程的方法
	ErrNotInLoopThread = errors.New("reactor: not in loop thread")

	// ErrConnectAbandoned 连接重试超过上限，放弃重连
	ErrConnectAbandoned = errors.New("reactor: connect abandoned after repeated failures")
)
