package diagnosis

// Prompt is sent with every image to the remote model.
const Prompt = `Analyze this plant image as an expert botanist.

1. Identify the plant. Use the format: "Common Name (Scientific Name)".
2. Health status: Is the plant healthy? (true/false).
3. Provide a short summary of the plant's condition.
4. Care instructions: Provide details for light, water, environment, and temperature.
5. Diagnostics:
   - Status: Name the specific issue or "Healthy".
   - Description: Describe visible symptoms.
   - Recommendations: Provide a list of actionable steps for care or recovery.

Return STRICTLY VALID JSON:
{
  "plant_name": "string",
  "is_healthy": boolean,
  "summary": "string",
  "care_instructions": {
    "light": "string",
    "water": "string",
    "environment": "string",
    "temperature": "string"
  },
  "diagnostics": {
    "status": "string",
    "description": "string",
    "recommendations": ["string"]
  }
}`
