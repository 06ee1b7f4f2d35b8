package zsock

// epollevent mirrors the packed kernel struct on amd64.
type epollevent struct {
	events uint32
	data   [8]byte
}
