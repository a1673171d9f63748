package services

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image/color"
	"strings"
	"unicode"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

const (
	avatarCanvasSize  = 512
	avatarFontSize    = 206
	AvatarDefaultSize = 256
)

var avatarColors = []color.NRGBA{
	{R: 0x4F, G: 0x46, B: 0xE5, A: 0xFF},
	{R: 0x05, G: 0x96, B: 0x69, A: 0xFF},
	{R: 0xD9, G: 0x77, B: 0x06, A: 0xFF},
	{R: 0xDC, G: 0x26, B: 0x26, A: 0xFF},
	{R: 0x25, G: 0x63, B: 0xEB, A: 0xFF},
	{R: 0x7C, G: 0x3A, B: 0xED, A: 0xFF},
	{R: 0xDB, G: 0x27, B: 0x77, A: 0xFF},
	{R: 0x0D, G: 0x94, B: 0x88, A: 0xFF},
}

type AvatarService interface {
	GenerateProjectAvatar(project *types.Project, size int) ([]byte, error)
	CreateAndUploadProjectAvatar(ctx context.Context, project *types.Project) error
}

type avatarService struct {
	log           *logger.Logger
	bucketService BucketService
	font          *truetype.Font
}

func NewAvatarService(log *logger.Logger, bucketService BucketService) (AvatarService, error) {
	parsed, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse avatar font: %w", err)
	}
	return &avatarService{
		log:           log.With("service", "AvatarService"),
		bucketService: bucketService,
		font:          parsed,
	}, nil
}

// CreateAndUploadProjectAvatar renders the project's avatar and stores it in the
// bucket. The project's avatar fields are only set when the upload happened.
func (as *avatarService) CreateAndUploadProjectAvatar(ctx context.Context, project *types.Project) error {
	if !as.bucketService.Enabled() {
		return nil
	}
	png, err := as.GenerateProjectAvatar(project, AvatarDefaultSize)
	if err != nil {
		return err
	}
	bucketKey := fmt.Sprintf("project_avatars/%s.png", project.ID.String())
	if err := as.bucketService.UploadFile(ctx, bucketKey, "image/png", bytes.NewReader(png)); err != nil {
		return fmt.Errorf("failed to upload project avatar: %w", err)
	}
	project.AvatarBucketKey = bucketKey
	project.AvatarURL = as.bucketService.GetPublicURL(bucketKey)
	return nil
}

// GenerateProjectAvatar draws the project's initials on a round background. The
// background color is stable for a given project ID.
func (as *avatarService) GenerateProjectAvatar(project *types.Project, size int) ([]byte, error) {
	if size <= 0 || size > avatarCanvasSize {
		size = AvatarDefaultSize
	}
	dc := gg.NewContext(avatarCanvasSize, avatarCanvasSize)

	dc.DrawCircle(avatarCanvasSize/2, avatarCanvasSize/2, avatarCanvasSize/2)
	dc.Clip()

	dc.SetColor(avatarColor(project.ID.String()))
	dc.DrawRectangle(0, 0, avatarCanvasSize, avatarCanvasSize)
	dc.Fill()

	// A face keeps glyph caches and must not be shared between goroutines.
	face := truetype.NewFace(as.font, &truetype.Options{
		Size:    avatarFontSize,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	defer face.Close()
	dc.SetFontFace(face)
	dc.SetColor(color.White)
	dc.DrawStringAnchored(projectInitials(project.Name), avatarCanvasSize/2, avatarCanvasSize/2, 0.5, 0.35)

	img := imaging.Resize(dc.Image(), size, size, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

//----------------------------------------------------------------------------------------
// Helpers
//----------------------------------------------------------------------------------------
func projectInitials(name string) string {
	var out []rune
	for _, word := range strings.Fields(name) {
		for _, r := range word {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				out = append(out, unicode.ToUpper(r))
				break
			}
		}
		if len(out) == 2 {
			break
		}
	}
	if len(out) == 0 {
		return "?"
	}
	return string(out)
}

func avatarColor(seed string) color.NRGBA {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	return avatarColors[h.Sum32()%uint32(len(avatarColors))]
}
