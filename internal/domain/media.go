package domain

type MediaOrigin string

const (
	MediaOriginLocal  MediaOrigin = "local"
	MediaOriginRemote MediaOrigin = "remote"
)

type MediaKind string

const (
	MediaKindPhoto MediaKind = "photo"
	MediaKindAudio MediaKind = "audio"
)

type MediaAsset struct {
	Key    string
	Data   []byte
	Origin MediaOrigin
}

// MediaRefs is the view of a record's asset references.
type MediaRefs struct {
	CurrentPhotoKey string
	PhotoKeys       []string
	RecordedAudio   string
	AudioVariants   map[string]string
}

// AssetKeys lists every distinct asset key: primary photo first, then the
// remaining photos, then the recorded audio. Transcoded audio variants are
// server-side renditions and are not listed.
func (m MediaRefs) AssetKeys() []string {
	seen := make(map[string]bool)
	var keys []string
	add := func(k string) {
		if k == "" || seen[k] {
			return
		}
		seen[k] = true
		keys = append(keys, k)
	}
	add(m.CurrentPhotoKey)
	for _, k := range m.PhotoKeys {
		add(k)
	}
	add(m.RecordedAudio)
	return keys
}

func (m MediaRefs) KindOf(key string) MediaKind {
	if key != "" && key == m.RecordedAudio {
		return MediaKindAudio
	}
	return MediaKindPhoto
}
