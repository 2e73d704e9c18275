package recognize

import (
	"context"
	"errors"
	"fmt"
	"os"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
)

// BatchAnnotator is the slice of the Vision API the engine uses. Satisfied by
// *vision.ImageAnnotatorClient.
type BatchAnnotator interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
	Close() error
}

// GoogleVision recognizes text with the Cloud Vision document text detection
// API. One synchronous call per image.
type GoogleVision struct {
	client BatchAnnotator
}

// NewGoogleVision creates a Vision-backed recognizer. Credentials come from
// credentialsFile when set, otherwise GOOGLE_CREDENTIALS (inline JSON),
// GOOGLE_APPLICATION_CREDENTIALS, or application default credentials.
func NewGoogleVision(ctx context.Context, credentialsFile string) (*GoogleVision, error) {
	const op = "NewGoogleVision"

	var opts []option.ClientOption
	switch {
	case credentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	case os.Getenv("GOOGLE_CREDENTIALS") != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(os.Getenv("GOOGLE_CREDENTIALS"))))
	}

	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, wrapErr(op, "", fmt.Errorf("%w: %v", ErrEngineUnavailable, err))
	}
	return &GoogleVision{client: client}, nil
}

// NewGoogleVisionWithClient creates a Vision-backed recognizer with an
// explicit client (for testing).
func NewGoogleVisionWithClient(client BatchAnnotator) *GoogleVision {
	return &GoogleVision{client: client}
}

// Close releases the underlying API client.
func (g *GoogleVision) Close() error {
	return g.client.Close()
}

// Recognize extracts text from the image at imagePath.
func (g *GoogleVision) Recognize(ctx context.Context, imagePath string) (string, error) {
	const op = "GoogleVision.Recognize"

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", wrapErr(op, imagePath, fmt.Errorf("%w: %v", ErrUnreadableImage, err))
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{
			{
				Image: &visionpb.Image{Content: data},
				Features: []*visionpb.Feature{
					{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
				},
			},
		},
	}

	resp, err := g.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return "", wrapErr(op, imagePath, err)
	}
	if len(resp.GetResponses()) == 0 {
		return "", wrapErr(op, imagePath, errors.New("empty response from Vision API"))
	}

	r := resp.GetResponses()[0]
	if r.GetError() != nil {
		return "", wrapErr(op, imagePath, fmt.Errorf("vision api: %s", r.GetError().GetMessage()))
	}
	if r.GetFullTextAnnotation() == nil {
		// No text detected is a valid result, not an error.
		return "", nil
	}
	return r.GetFullTextAnnotation().GetText(), nil
}
