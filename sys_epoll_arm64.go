package zsock

type epollevent struct {
	events uint32
	_      int32
	data   [8]byte
}
