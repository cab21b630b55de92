package pipeline

import "clipflow/internal/services/enhancer"

// brollSettings returns the per-family enhancement options. Property tours
// and podcast clips keep their own footage, so automatic B-roll and zooms are
// disabled for those families.
func brollSettings(family string) enhancer.BrollSettings {
	switch family {
	case "property", "podcast":
		return enhancer.BrollSettings{}
	default:
		return enhancer.BrollSettings{
			MagicBrolls:      true,
			BrollsPercentage: 50,
			MagicZooms:       true,
		}
	}
}
