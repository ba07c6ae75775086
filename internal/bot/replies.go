package bot

const (
	replyWelcome = "Welcome to WeatherFatherBot! Use /subscribe to get daily weather updates and /setcity <city> to choose your city."

	replySubscribed        = "You are now subscribed to daily weather updates."
	replyAlreadySubscribed = "You are already subscribed to daily weather updates."
	replySubscribeFailed   = "Failed to subscribe. Please try again later."

	replyUnsubscribed        = "You are now unsubscribed from daily weather updates."
	replyAlreadyUnsubscribed = "You are already unsubscribed from daily weather updates."
	replyUnsubscribeFailed   = "Failed to unsubscribe. Please try again later."

	replyCitySet       = "Your preferred city has been set to %s."
	replyCityNeedsSub  = "Please /subscribe first, then set your city."
	replyCityInvalid   = "Please send a city name of at most %d characters, e.g. /setcity Berlin"
	replyCityUsage     = "Usage: /setcity <city>, e.g. /setcity Berlin"
	replySetCityFailed = "Failed to set your preferred city. Please try again later."
)
