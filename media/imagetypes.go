package media

// Icons are decoded with image.Decode, which only knows the formats whose
// decoders have registered themselves. Importing these packages does that.

import (
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)
