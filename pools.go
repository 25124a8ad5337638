package dynts

import "sync"

var recordBytesPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, LimitItemSize+maxRecordHeaderSize+checksumSize)
	},
}

var keyBytesPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, 1024)
	},
}

func releaseRecordBytes(b []byte) {
	recordBytesPool.Put(b[:0])
}

func releaseKeyBytes(b []byte) {
	keyBytesPool.Put(b[:0])
}
