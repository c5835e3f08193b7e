package torrent

import (
	"os"

	"github.com/anacrolix/torrent/metainfo"
)

func writeMetaInfo(mi *metainfo.MetaInfo, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := mi.Write(out); err != nil {
		out.Close()
		os.Remove(path)
		return err
	}

	return out.Close()
}
