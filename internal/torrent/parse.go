package torrent

import (
	"errors"
	"fmt"

	"github.com/anacrolix/torrent/metainfo"
)

var (
	// ErrIncorrectFilesInTorrent is raised when an uploaded torrent container
	// does not describe exactly one file. Multi-file (and empty) torrents can
	// never map onto a single catalog rendition.
	ErrIncorrectFilesInTorrent = errors.New("torrents with only 1 file are supported")

	ErrMalformedMagnetURI = errors.New("magnet URI could not be decoded")
)

// TorrentInfo is the subset of a parsed torrent container the import resolver
// needs: the declared name, and the single described file's length.
type TorrentInfo struct {
	Name     string
	FileSize int64
	InfoHash string
}

// ParseTorrentFile loads and decodes the torrent container at the given path.
// Containers describing anything other than exactly one file are rejected
// with ErrIncorrectFilesInTorrent.
func ParseTorrentFile(path string) (*TorrentInfo, error) {
	mi, err := metainfo.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse torrent container: %w", err)
	}

	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to decode torrent info dictionary: %w", err)
	}

	// Single-file torrents encode their one file as a top-level length;
	// multi-file torrents carry an explicit file list.
	fileCount := len(info.Files)
	if fileCount == 0 && info.Length > 0 {
		fileCount = 1
	}
	if fileCount != 1 {
		return nil, ErrIncorrectFilesInTorrent
	}

	size := info.Length
	if len(info.Files) == 1 {
		size = info.Files[0].Length
	}

	return &TorrentInfo{
		Name:     info.Name,
		FileSize: size,
		InfoHash: mi.HashInfoBytes().HexString(),
	}, nil
}

// ParseMagnetURI decodes a magnet link and returns its declared display name
// alongside the embedded info-hash.
func ParseMagnetURI(uri string) (name string, infoHash string, err error) {
	magnet, err := metainfo.ParseMagnetUri(uri)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrMalformedMagnetURI, err.Error())
	}

	return magnet.DisplayName, magnet.InfoHash.HexString(), nil
}
